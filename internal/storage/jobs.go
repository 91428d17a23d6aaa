package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMaxAttempts = 3

// retryDelay is the wait before the next try after the given number of
// failed attempts, starting at 2s and doubling.
func retryDelay(attempts int) time.Duration {
	return time.Second << attempts
}

// EnqueueJob adds a pending job. A zero RunAfter means "now"; a zero
// MaxAttempts means three tries.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	_, err := s.db.Exec(`INSERT INTO jobs
		(id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, job.MaxAttempts, stamp(job.RunAfter), stamp(now), stamp(now))
	if err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Type, err)
	}
	return nil
}

// ClaimNextJob flips the oldest due pending job of one of types to running
// and returns it, or returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := stamp(time.Now())
	args := []any{now, now}
	for _, t := range types {
		args = append(args, t)
	}

	row := s.db.QueryRow(`UPDATE jobs SET status = 'running', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= ? AND type IN (?`+strings.Repeat(", ?", len(types)-1)+`)
			ORDER BY run_after, created_at
			LIMIT 1)
		RETURNING id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`,
		args...)

	var (
		j                    Job
		due, created, update string
		lastErr              sql.NullString
	)
	err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&due, &created, &update, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	j.LastError = lastErr.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&j.RunAfter, due}, {&j.CreatedAt, created}, {&j.UpdatedAt, update}} {
		if *f.dst, err = unstamp(f.src); err != nil {
			return nil, fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, stamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records errMsg against the job. It goes back to pending with an
// exponential delay until max_attempts is used up, then stays failed.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var attempts, limit int
		err := tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &limit)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load job %s: %w", id, err)
		}

		attempts++
		now := time.Now()
		status, due := "pending", now.Add(retryDelay(attempts))
		if attempts >= limit {
			status, due = "failed", now
		}
		_, err = tx.Exec(`UPDATE jobs
			SET status = ?, attempts = ?, last_error = ?, updated_at = ?,
			    run_after = CASE WHEN ? = 'pending' THEN ? ELSE run_after END
			WHERE id = ?`,
			status, attempts, errMsg, stamp(now), status, stamp(due), id)
		if err != nil {
			return fmt.Errorf("fail job %s: %w", id, err)
		}
		return nil
	})
}

// HasOpenJob reports whether an identical job is still pending or running.
func (s *Store) HasOpenJob(jobType, payloadJSON string) (bool, error) {
	var open bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM jobs
		WHERE type = ? AND payload_json = ? AND status IN ('pending', 'running'))`,
		jobType, payloadJSON).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("open job lookup: %w", err)
	}
	return open, nil
}
