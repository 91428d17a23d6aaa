// Package ingest keeps each user's knowledge base in step with their
// mailbox and CRM by running sync jobs from the SQLite job queue.
package ingest

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
)

// JobSyncUser is the job type of a full per-user sync.
const JobSyncUser = "sync_user"

const (
	defaultMailBatch = 50
	syncMailQuery    = "in:inbox"
)

// JobStore abstracts the job queue operations and user lookup.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetUser(id string) (storage.User, error)
}

// Indexer writes mail and contacts into the knowledge base.
type Indexer interface {
	IndexMail(ctx context.Context, owner string, msg gateway.MailMessage)
	IndexContact(ctx context.Context, owner string, c gateway.Contact)
}

// Worker drains sync_user jobs, one at a time.
type Worker struct {
	store     JobStore
	connector gateway.Connector
	indexer   Indexer
	mailBatch int
	idle      time.Duration
	logger    *slog.Logger
}

// NewWorker builds a Worker. mailBatch caps the inbox messages indexed per
// sync; idle is the pause after finding the queue empty. Non-positive values
// fall back to 50 messages and 500ms.
func NewWorker(store JobStore, connector gateway.Connector, indexer Indexer, mailBatch int, idle time.Duration) *Worker {
	return &Worker{
		store:     store,
		connector: connector,
		indexer:   indexer,
		mailBatch: cmp.Or(max(mailBatch, 0), defaultMailBatch),
		idle:      cmp.Or(max(idle, 0), 500*time.Millisecond),
		logger:    slog.Default().With("component", "ingest"),
	}
}

// Run keeps claiming jobs back to back and sleeps only when none is due.
// It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	pause := time.NewTimer(0)
	defer pause.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pause.C:
		}

		next := w.idle
		switch worked, err := w.RunOnce(ctx); {
		case err != nil:
			w.logger.Error("ingest iteration", "error", err)
		case worked:
			next = 0
		}
		pause.Reset(next)
	}
}

// RunOnce handles at most one job. worked reports whether a job was claimed;
// a failing job is rescheduled through FailJob and is not an error here.
func (w *Worker) RunOnce(ctx context.Context) (worked bool, err error) {
	job, err := w.store.ClaimNextJob([]string{JobSyncUser})
	if err != nil || job == nil {
		return false, err
	}

	if jobErr := w.processJob(ctx, job); jobErr != nil {
		w.logger.Warn("sync job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", jobErr)
		if err := w.store.FailJob(job.ID, jobErr.Error()); err != nil {
			return true, fmt.Errorf("record failure of job %s: %w", job.ID, err)
		}
		return true, nil
	}
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return true, nil
}

type syncPayload struct {
	UserID string `json:"user_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload syncPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	user, err := w.store.GetUser(payload.UserID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", payload.UserID, err)
	}

	start := time.Now()
	mailErr := w.syncMail(ctx, user)
	crmErr := w.syncContacts(ctx, user)
	w.logger.Debug("user synced", "job_id", job.ID, "user_id", user.ID, "elapsed", time.Since(start))
	return errors.Join(mailErr, crmErr)
}

func (w *Worker) syncMail(ctx context.Context, user storage.User) error {
	if !user.HasMailAccess() {
		return nil
	}
	mail, err := w.connector.Mail(user)
	if err != nil {
		return notConfiguredOK(err)
	}
	msgs, err := mail.List(ctx, syncMailQuery, w.mailBatch)
	if err != nil {
		return fmt.Errorf("listing mail: %w", err)
	}
	for _, m := range msgs {
		w.indexer.IndexMail(ctx, user.ID, m)
	}
	return nil
}

func (w *Worker) syncContacts(ctx context.Context, user storage.User) error {
	if !user.HasCRMAccess() {
		return nil
	}
	crm, err := w.connector.CRM(user)
	if err != nil {
		return notConfiguredOK(err)
	}
	contacts, err := crm.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing contacts: %w", err)
	}
	for _, c := range contacts {
		notes, err := crm.Notes(ctx, c.ID)
		if err != nil {
			w.logger.Warn("loading contact notes", "user_id", user.ID, "contact_id", c.ID, "error", err)
		}
		c.Notes = notes
		w.indexer.IndexContact(ctx, user.ID, c)
	}
	return nil
}

// notConfiguredOK drops ErrNotConfigured, which only means the service is
// not connected for this user.
func notConfiguredOK(err error) error {
	if errors.Is(err, gateway.ErrNotConfigured) {
		return nil
	}
	return err
}
