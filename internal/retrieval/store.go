package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ KnowledgeStore = (*SQLiteStore)(nil)

// SQLiteStore is the KnowledgeStore over the documents table created by the
// storage migrations. Search is an exhaustive cosine scan of one owner's
// documents of one kind.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Exists(ctx context.Context, owner string, kind Kind, externalID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE owner = ? AND kind = ? AND external_id IN (?, ?))`,
		owner, string(kind), externalID, ChunkID(externalID, 0),
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", kind, externalID, err)
	}
	return found, nil
}

const upsertDocument = `
INSERT INTO documents (id, owner, kind, external_id, title, author, metadata, body, embedding, source_date, indexed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner, kind, external_id) DO UPDATE SET
	title       = excluded.title,
	author      = excluded.author,
	metadata    = excluded.metadata,
	body        = excluded.body,
	embedding   = excluded.embedding,
	source_date = excluded.source_date,
	indexed_at  = excluded.indexed_at`

func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now()
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", doc.ExternalID, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertDocument,
		doc.ID, doc.Owner, string(doc.Kind), doc.ExternalID, doc.Title, doc.Author, string(meta), doc.Body,
		packVector(doc.Embedding), formatTime(doc.SourceDate), formatTime(doc.IndexedAt),
	); err != nil {
		return fmt.Errorf("upsert %s %s: %w", doc.Kind, doc.ExternalID, err)
	}
	return nil
}

// Nearest ranks by scanning only ids and embeddings, then loads the full
// rows of the winners.
func (s *SQLiteStore) Nearest(ctx context.Context, owner string, kind Kind, vector []float32, limit int) ([]ScoredDocument, error) {
	qMag := magnitude(vector)
	if limit <= 0 || qMag == 0 {
		return nil, nil
	}

	ranked, err := s.rank(ctx, owner, kind, vector, qMag, limit)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}

	args := make([]any, len(ranked))
	pos := make(map[string]int, len(ranked))
	for i, c := range ranked {
		args[i] = c.id
		pos[c.id] = i
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (?`+strings.Repeat(", ?", len(args)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load nearest documents: %w", err)
	}
	defer rows.Close()

	out := make([]ScoredDocument, len(ranked))
	filled := 0
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		i := pos[doc.ID]
		out[i] = ScoredDocument{Document: doc, Distance: float32(1 - ranked[i].sim)}
		filled++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load nearest documents: %w", err)
	}
	if filled != len(out) {
		// A row vanished between the two queries; drop the gaps.
		kept := out[:0]
		for _, d := range out {
			if d.ID != "" {
				kept = append(kept, d)
			}
		}
		out = kept
	}
	return out, nil
}

func (s *SQLiteStore) rank(ctx context.Context, owner string, kind Kind, q []float32, qMag float64, k int) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM documents WHERE owner = ? AND kind = ?`, owner, string(kind))
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer rows.Close()

	top := topK{k: k}
	var vec []float32
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vectors: %w", err)
		}
		if vec, err = unpackVector(vec, blob); err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		if sim, ok := cosine(q, qMag, vec); ok {
			top.offer(id, sim)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	return top.best, nil
}

// count is used by tests to inspect what was stored.
func (s *SQLiteStore) count(ctx context.Context, owner string, kind Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE owner = ? AND kind = ?`, owner, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s documents: %w", kind, err)
	}
	return n, nil
}

const documentColumns = `id, owner, kind, external_id, title, author, metadata, body, embedding, source_date, indexed_at`

func scanDocument(rows *sql.Rows) (Document, error) {
	var (
		d                Document
		kind, meta       string
		blob             []byte
		sourced, indexed string
	)
	if err := rows.Scan(&d.ID, &d.Owner, &kind, &d.ExternalID, &d.Title, &d.Author, &meta, &d.Body, &blob, &sourced, &indexed); err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	d.Kind = Kind(kind)
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return Document{}, fmt.Errorf("document %s metadata: %w", d.ID, err)
		}
	}
	var err error
	if d.Embedding, err = unpackVector(nil, blob); err != nil {
		return Document{}, fmt.Errorf("document %s: %w", d.ID, err)
	}
	if d.SourceDate, err = parseTime(sourced); err != nil {
		return Document{}, fmt.Errorf("document %s source_date: %w", d.ID, err)
	}
	if d.IndexedAt, err = parseTime(indexed); err != nil {
		return Document{}, fmt.Errorf("document %s indexed_at: %w", d.ID, err)
	}
	return d, nil
}

// Times are stored as RFC 3339 UTC text; the zero time is stored as "".

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
