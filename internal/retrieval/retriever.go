package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/gateway"
)

// Retriever is the retrieval engine: it indexes mail and CRM contacts into
// the knowledge store and renders semantic search results as prompt context.
type Retriever struct {
	embedder *Embedder
	store    KnowledgeStore
	maxChars int
	logger   *slog.Logger

	// OnIndexed, when set, is called once per stored document.
	OnIndexed func(kind Kind)
}

// NewRetriever creates a Retriever backed by the given Embedder and store.
// maxChars <= 0 selects MaxChars.
func NewRetriever(embedder *Embedder, store KnowledgeStore, maxChars int) *Retriever {
	if maxChars <= 0 {
		maxChars = MaxChars
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		maxChars: maxChars,
		logger:   slog.Default(),
	}
}

// IndexMail stores msg for owner unless it was indexed before. Text beyond
// the character budget is split into chunk documents that share the
// message's metadata. Failures are logged and swallowed.
func (r *Retriever) IndexMail(ctx context.Context, owner string, msg gateway.MailMessage) {
	if err := r.indexMail(ctx, owner, msg); err != nil {
		r.logger.Warn("indexing mail failed", "user_id", owner, "message_id", msg.ID, "error", err)
	}
}

func (r *Retriever) indexMail(ctx context.Context, owner string, msg gateway.MailMessage) error {
	exists, err := r.store.Exists(ctx, owner, KindMail, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	name, address := msg.Sender()
	body := msg.Body
	for _, a := range msg.Attachments {
		text, err := AttachmentText(a)
		if err != nil {
			r.logger.Debug("skipping attachment", "message_id", msg.ID, "file", a.Filename, "error", err)
			continue
		}
		if text != "" {
			body += fmt.Sprintf("\n\nAttachment %s:\n%s", a.Filename, text)
		}
	}

	text := fmt.Sprintf("From: %s (%s)\nSubject: %s\nBody: %s", name, address, msg.Subject, body)
	base := Document{
		Owner:      owner,
		Kind:       KindMail,
		ExternalID: msg.ID,
		Title:      msg.Subject,
		Author:     address,
		Metadata: map[string]string{
			"from_name": name,
			"thread_id": msg.ThreadID,
		},
		Body:       body,
		SourceDate: msg.Date,
	}

	if len(text) <= r.maxChars {
		vec, err := r.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		base.Embedding = vec
		return r.save(ctx, base)
	}

	chunks := Chunk(text, r.maxChars)
	vecs, err := r.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return err
	}
	// Chunk 0 is what Exists looks for, so it is written last: a failure
	// part way leaves the message unindexed and the next attempt redoes it.
	for i := len(chunks) - 1; i >= 0; i-- {
		doc := base
		doc.ExternalID = ChunkID(msg.ID, i)
		doc.Title = fmt.Sprintf("%s [Part %d]", msg.Subject, i+1)
		doc.Body = chunks[i]
		doc.Embedding = vecs[i]
		if err := r.save(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// IndexContact upserts c for owner. When the text is over budget, the
// property dump is truncated and the notes are kept. Failures are logged
// and swallowed.
func (r *Retriever) IndexContact(ctx context.Context, owner string, c gateway.Contact) {
	if err := r.indexContact(ctx, owner, c); err != nil {
		r.logger.Warn("indexing contact failed", "user_id", owner, "contact_id", c.ID, "error", err)
	}
}

func (r *Retriever) indexContact(ctx context.Context, owner string, c gateway.Contact) error {
	notes := strings.Join(c.Notes, "\n---\n")
	props := propertyDump(c.Properties)

	text := fmt.Sprintf("Contact: %s %s\nEmail: %s\nNotes: %s\nAll Properties: %s",
		c.FirstName, c.LastName, c.Email, notes, props)
	if len(text) > r.maxChars {
		props = clip(props, r.maxChars/2)
		text = clip(fmt.Sprintf("Contact: %s %s\nEmail: %s\nNotes: %s\nProperties: %s",
			c.FirstName, c.LastName, c.Email, notes, props), r.maxChars)
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return r.save(ctx, Document{
		Owner:      owner,
		Kind:       KindContact,
		ExternalID: c.ID,
		Title:      strings.TrimSpace(c.FirstName + " " + c.LastName),
		Author:     c.Email,
		Metadata: map[string]string{
			"first_name": c.FirstName,
			"last_name":  c.LastName,
			"company":    c.Company,
			"phone":      c.Phone,
		},
		Body:       notes,
		Embedding:  vec,
		SourceDate: c.LastModified,
	})
}

func (r *Retriever) save(ctx context.Context, doc Document) error {
	if err := r.store.Upsert(ctx, doc); err != nil {
		return err
	}
	if r.OnIndexed != nil {
		r.OnIndexed(doc.Kind)
	}
	return nil
}

func propertyDump(props map[string]string) string {
	if len(props) == 0 {
		return "{}"
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Search embeds query and renders the closest mail and contact documents for
// owner as one context block, each section capped at limit entries. Any
// failure yields "" so the caller can carry on without retrieved context.
func (r *Retriever) Search(ctx context.Context, owner, query string, limit int) string {
	out, err := r.search(ctx, owner, query, limit)
	if err != nil {
		r.logger.Warn("knowledge search failed", "user_id", owner, "error", err)
		return ""
	}
	return out
}

func (r *Retriever) search(ctx context.Context, owner, query string, limit int) (string, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}
	mail, err := r.store.Nearest(ctx, owner, KindMail, vec, limit)
	if err != nil {
		return "", fmt.Errorf("searching mail: %w", err)
	}
	contacts, err := r.store.Nearest(ctx, owner, KindContact, vec, limit)
	if err != nil {
		return "", fmt.Errorf("searching contacts: %w", err)
	}

	var b strings.Builder
	b.WriteString("=== Relevant Emails ===\n")
	for _, d := range mail {
		fmt.Fprintf(&b, "From: %s (%s)\nSubject: %s\nDate: %s\nBody: %s\n\n",
			d.Metadata["from_name"], d.Author, d.Title, formatDate(d.SourceDate), d.Body)
	}
	b.WriteString("\n=== Relevant Contacts ===\n")
	for _, d := range contacts {
		fmt.Fprintf(&b, "Contact: %s %s\nEmail: %s\nNotes: %s\n\n",
			d.Metadata["first_name"], d.Metadata["last_name"], d.Author, d.Body)
	}
	return b.String(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02T15:04:05")
}
