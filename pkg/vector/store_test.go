package vector

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vector.db"), dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndSearchRoundTrip(t *testing.T) {
	s := newTestStore(t, 4)

	id := s.Add(42, "monologue", "thinking about files", []float32{0.1, 0.2, 0.3, 0.4})
	require.Positive(t, id)
	s.Add(43, "monologue", "orthogonal thought", []float32{-0.4, 0.3, -0.2, 0.1})

	matches := s.Search([]float32{0.1, 0.2, 0.3, 0.4}, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.Equal(t, int64(42), matches[0].EpisodeID)
	assert.Equal(t, "thinking about files", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestSearchOrderingAndTies(t *testing.T) {
	s := newTestStore(t, 2)

	// Two identical embeddings tie on score; ascending id breaks the tie.
	first := s.Add(1, "x", "first", []float32{1, 0})
	second := s.Add(2, "x", "second", []float32{1, 0})
	s.Add(3, "x", "far", []float32{0, 1})

	matches := s.Search([]float32{1, 0}, 3)
	require.Len(t, matches, 3)
	assert.Equal(t, first, matches[0].ID)
	assert.Equal(t, second, matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[2].Score)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t, 768)

	emb := make([]float32, 100)
	assert.Zero(t, s.Add(1, "x", "short embedding", emb))
	assert.Zero(t, s.Count())
}

func TestAddRejectsNonFiniteComponents(t *testing.T) {
	s := newTestStore(t, 3)

	assert.Zero(t, s.Add(1, "x", "nan", []float32{0, float32(math.NaN()), 0}))
	assert.Zero(t, s.Add(1, "x", "inf", []float32{0, float32(math.Inf(1)), 0}))
	assert.Zero(t, s.Count())
}

func TestCleanupOlderThan(t *testing.T) {
	s := newTestStore(t, 2)

	s.now = func() time.Time { return time.Now().Add(-40 * 24 * time.Hour) }
	s.Add(1, "x", "old", []float32{1, 0})
	s.now = time.Now
	s.Add(2, "x", "fresh", []float32{0, 1})
	require.Equal(t, 2, s.Count())

	removed := s.CleanupOlderThan(30)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Count())

	matches := s.Search([]float32{0, 1}, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "fresh", matches[0].Text)

	// Idempotent: nothing left past the cutoff.
	assert.Zero(t, s.CleanupOlderThan(30))
}

func TestEmbeddingBytesRoundTrip(t *testing.T) {
	emb := []float32{0.5, -1.25, 3.75e-3, 0}
	assert.Equal(t, emb, decodeEmbedding(encodeEmbedding(emb)))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector.db")

	s, err := Open(path, 2)
	require.NoError(t, err)
	id := s.Add(7, "note", "persisted", []float32{1, 1})
	require.Positive(t, id)
	require.NoError(t, s.Close())

	s2, err := Open(path, 2)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 1, s2.Count())
	matches := s2.Search([]float32{1, 1}, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.Equal(t, "persisted", matches[0].Text)
}
