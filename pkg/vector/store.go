// Package vector implements the durable store of fixed-dimension float32
// embeddings with cosine top-k search and age-based cleanup, backed by a
// single bbolt file.
package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketVectors = []byte("vectors")

// Record is one stored embedding with its provenance.
type Record struct {
	ID        uint64    `json:"id"`
	EpisodeID int64     `json:"episode_id"`
	EventType string    `json:"event_type"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// storedRecord is the on-disk form: the embedding travels as raw
// little-endian float32 bytes (base64 inside the JSON envelope).
type storedRecord struct {
	ID        uint64    `json:"id"`
	EpisodeID int64     `json:"episode_id"`
	EventType string    `json:"event_type"`
	Text      string    `json:"text"`
	Embedding []byte    `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is one search result.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// Store is the vector memory. bbolt serializes access internally; one
// writer at a time, readers concurrent.
type Store struct {
	db     *bolt.DB
	dim    int
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the vector database at path. dim is the
// expected embedding dimension; Add rejects anything else.
func Open(path string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vectors bucket: %w", err)
	}

	return &Store{
		db:     db,
		dim:    dim,
		logger: slog.Default().With("component", "vector"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dim returns the configured embedding dimension.
func (s *Store) Dim() int {
	return s.dim
}

// Add stores an embedding and returns its id, or 0 when the embedding has
// the wrong dimension or contains NaN or infinite components.
func (s *Store) Add(episodeID int64, eventType, text string, embedding []float32) uint64 {
	if len(embedding) != s.dim {
		s.logger.Error("Rejecting embedding with wrong dimension",
			"got", len(embedding), "expected", s.dim, "event_type", eventType)
		return 0
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			s.logger.Error("Rejecting embedding with non-finite component",
				"index", i, "event_type", eventType)
			return 0
		}
	}

	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		rec := storedRecord{
			ID:        id,
			EpisodeID: episodeID,
			EventType: eventType,
			Text:      text,
			Embedding: encodeEmbedding(embedding),
			CreatedAt: s.now(),
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(keyFor(id), raw)
	})
	if err != nil {
		s.logger.Error("Failed to store embedding", "event_type", eventType, "error", err)
		return 0
	}
	return id
}

// Search returns the topK records most similar to query by cosine
// similarity, descending score, ties broken by ascending id. A query of the
// wrong dimension returns nil.
func (s *Store) Search(query []float32, topK int) []Match {
	if len(query) != s.dim || topK <= 0 {
		return nil
	}

	var matches []Match
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(_, v []byte) error {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("Skipping undecodable vector record", "error", err)
				return nil
			}
			emb := decodeEmbedding(rec.Embedding)
			if len(emb) != s.dim {
				return nil
			}
			matches = append(matches, Match{
				Record: Record{
					ID:        rec.ID,
					EpisodeID: rec.EpisodeID,
					EventType: rec.EventType,
					Text:      rec.Text,
					Embedding: emb,
					CreatedAt: rec.CreatedAt,
				},
				Score: cosine(query, emb),
			})
			return nil
		})
	})
	if err != nil {
		s.logger.Error("Vector search failed", "error", err)
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// CleanupOlderThan deletes records older than the retention window and
// returns how many were removed. days <= 0 removes everything.
func (s *Store) CleanupOlderThan(days int) int {
	cutoff := s.now()
	if days > 0 {
		cutoff = cutoff.Add(-time.Duration(days) * 24 * time.Hour)
	}

	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.CreatedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Vector cleanup failed", "error", err)
		return removed
	}
	if removed > 0 {
		s.logger.Info("Cleaned up old vector records", "removed", removed, "retention_days", days)
	}
	return removed
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return count
}

// Healthy confirms the store responds to a trivial read.
func (s *Store) Healthy() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVectors) == nil {
			return fmt.Errorf("vectors bucket missing")
		}
		return nil
	})
}

func keyFor(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func encodeEmbedding(emb []float32) []byte {
	out := make([]byte, 4*len(emb))
	for i, v := range emb {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeEmbedding(raw []byte) []float32 {
	if len(raw)%4 != 0 {
		return nil
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// cosine computes cosine similarity in float64 to limit rounding drift.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
