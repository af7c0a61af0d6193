package mind

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBeliefs(t *testing.T) *Beliefs {
	t.Helper()
	b := NewBeliefs(filepath.Join(t.TempDir(), "beliefs.json"))
	require.NoError(t, b.Load())
	return b
}

func TestFormDeduplicatesByText(t *testing.T) {
	b := newTestBeliefs(t)

	id1 := b.Form("the directory is quiet at night", "observation", 0.6)
	id2 := b.Form("the directory is quiet at night", "observation", 0.9)
	assert.Equal(t, id1, id2)
	assert.Len(t, b.Snapshot(), 1)

	assert.Empty(t, b.Form("   ", "observation", 0.5))
}

func TestValidateAdjustsConfidence(t *testing.T) {
	b := newTestBeliefs(t)
	id := b.Form("files change often", "observation", 0.5)

	b.Validate(id, true)
	assert.Equal(t, 0.55, b.Snapshot()[0].Confidence)

	b.Validate(id, false)
	b.Validate(id, false)
	assert.Equal(t, 0.45, b.Snapshot()[0].Confidence)
	assert.NotEmpty(t, b.Snapshot()[0].LastValidated)
}

func TestDetectContradictionsFindsNegatedPairs(t *testing.T) {
	b := newTestBeliefs(t)
	b.Form("the user is active", "observation", 0.6)
	b.Form("the user is not active", "observation", 0.6)
	b.Form("something unrelated", "observation", 0.6)

	found := b.DetectContradictions()
	require.Len(t, found, 1)
	assert.Equal(t, "the user is active", found[0].FirstText)

	// Re-detection does not duplicate the record.
	assert.Empty(t, b.DetectContradictions())
	assert.Len(t, b.Contradictions(), 1)
}

func TestResolveWeaken(t *testing.T) {
	b := newTestBeliefs(t)
	b.Form("the user is active", "observation", 0.6)
	b.Form("the user is not active", "observation", 0.6)
	c := b.DetectContradictions()[0]

	b.Resolve(c.FirstID, c.SecondID, VerdictWeaken, "")

	for _, belief := range b.Snapshot() {
		assert.Equal(t, 0.42, belief.Confidence)
	}
	assert.True(t, b.Contradictions()[0].Resolved)
	assert.Equal(t, VerdictWeaken, b.Contradictions()[0].Verdict)
}

func TestResolveSynthesizeCreatesBelief(t *testing.T) {
	b := newTestBeliefs(t)
	b.Form("the user is active", "observation", 0.6)
	b.Form("the user is not active", "observation", 0.6)
	c := b.DetectContradictions()[0]

	b.Resolve(c.FirstID, c.SecondID, VerdictSynthesize, "the user is active only during the day")

	beliefs := b.Snapshot()
	require.Len(t, beliefs, 3)
	synthesized := beliefs[2]
	assert.Equal(t, "the user is active only during the day", synthesized.Text)
	assert.Equal(t, "synthesis", synthesized.Source)
	assert.Equal(t, 0.42, beliefs[0].Confidence)
}

func TestResolveUnknownVerdictIgnored(t *testing.T) {
	b := newTestBeliefs(t)
	b.Form("the user is active", "observation", 0.6)
	b.Form("the user is not active", "observation", 0.6)
	c := b.DetectContradictions()[0]

	b.Resolve(c.FirstID, c.SecondID, "explode", "")
	assert.False(t, b.Contradictions()[0].Resolved)
}

func TestContextListsConfidentBeliefs(t *testing.T) {
	b := newTestBeliefs(t)
	b.Form("strong belief", "observation", 0.8)
	b.Form("weak belief", "observation", 0.2)

	ctx := b.Context(10)
	assert.Contains(t, ctx, "strong belief")
	assert.NotContains(t, ctx, "weak belief")
}
