package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// VectorEntry is a knowledge record stored with its embedding.
type VectorEntry struct {
	ID        string
	Condition string
	Embedding []float32
	Metadata  json.RawMessage
}

// VectorMatch is a query hit with its cosine similarity.
type VectorMatch struct {
	ID        string
	Condition string
	Score     float64
	Metadata  json.RawMessage
}

// VectorIndex answers nearest-neighbour queries over knowledge embeddings.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error)
	Upsert(ctx context.Context, entries []VectorEntry) error
	Len(ctx context.Context) (int, error)
}

// Upsert inserts or replaces knowledge vectors in one transaction.
func (s *SQLiteDB) Upsert(ctx context.Context, entries []VectorEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_vectors (id, condition, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			condition = excluded.condition,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixMilli()
	for _, e := range entries {
		meta := e.Metadata
		if len(meta) == 0 {
			meta = json.RawMessage("{}")
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Condition, encodeVector(e.Embedding), string(meta), now); err != nil {
			return fmt.Errorf("upsert %q: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Len returns the number of indexed entries.
func (s *SQLiteDB) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// Query scans the index and returns the topK entries by cosine similarity.
// The knowledge base is small (tens of entries) so a full scan is fine.
func (s *SQLiteDB) Query(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, condition, embedding, metadata FROM knowledge_vectors`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var (
			m    VectorMatch
			blob []byte
			meta string
		)
		if err := rows.Scan(&m.ID, &m.Condition, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		emb := decodeVector(blob)
		if len(emb) != len(vector) {
			s.log.Warn("skipping vector with mismatched dimensions")
			continue
		}
		m.Score = cosine(vector, emb)
		m.Metadata = json.RawMessage(meta)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

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
