package retrieval

import (
	"context"
	"time"
)

// Kind distinguishes the document families held in the knowledge store.
type Kind string

const (
	KindMail    Kind = "mail"
	KindContact Kind = "contact"
)

// KnowledgeStore persists indexed documents and answers per-owner nearest
// neighbour queries. The SQLite implementation scans vectors brute force;
// an ANN-capable backend can slot in behind the same interface.
type KnowledgeStore interface {
	// Exists reports whether a document with externalID (or its first chunk)
	// is stored for owner and kind.
	Exists(ctx context.Context, owner string, kind Kind, externalID string) (bool, error)

	// Upsert inserts doc or replaces the stored document with the same
	// owner, kind and external id.
	Upsert(ctx context.Context, doc Document) error

	// Nearest returns up to limit documents ordered by ascending distance.
	Nearest(ctx context.Context, owner string, kind Kind, vector []float32, limit int) ([]ScoredDocument, error)
}

// Document is one indexed unit: a mail message, a chunk of one, or a contact.
type Document struct {
	ID         string
	Owner      string
	Kind       Kind
	ExternalID string
	Title      string // subject, or contact full name
	Author     string // sender address, or contact email
	Metadata   map[string]string
	Body       string
	Embedding  []float32
	SourceDate time.Time
	IndexedAt  time.Time
}

// ScoredDocument is a Document with its cosine distance to the query
// (1 - cosine similarity; smaller is closer).
type ScoredDocument struct {
	Document
	Distance float32
}
