package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/storage"
)

// Queue is the part of the job store the scheduler writes to.
type Queue interface {
	EnqueueJob(job storage.Job) error
	HasOpenJob(jobType, payloadJSON string) (bool, error)
	ListUsers() ([]storage.User, error)
}

// EnqueueSync queues a sync_user job for userID unless one is already
// pending or running. It reports whether a job was added.
func EnqueueSync(q Queue, userID string) (bool, error) {
	payload, err := json.Marshal(syncPayload{UserID: userID})
	if err != nil {
		return false, err
	}
	open, err := q.HasOpenJob(JobSyncUser, string(payload))
	if err != nil {
		return false, fmt.Errorf("checking open jobs: %w", err)
	}
	if open {
		return false, nil
	}
	err = q.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobSyncUser,
		PayloadJSON: string(payload),
	})
	if err != nil {
		return false, fmt.Errorf("enqueueing sync for %s: %w", userID, err)
	}
	return true, nil
}

// Scheduler periodically queues a sync for every connected user.
type Scheduler struct {
	queue     Queue
	interval  time.Duration
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler ticking every interval (default 60s).
func NewScheduler(q Queue, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{queue: q, interval: interval, logger: slog.Default()}
}

// Tick queues one sync per user with any connected service.
func (s *Scheduler) Tick() {
	users, err := s.queue.ListUsers()
	if err != nil {
		s.logger.Error("listing users for sync", "error", err)
		return
	}
	for _, u := range users {
		if !u.HasMailAccess() && !u.HasCRMAccess() {
			continue
		}
		if _, err := EnqueueSync(s.queue, u.ID); err != nil {
			s.logger.Warn("scheduling sync", "user_id", u.ID, "error", err)
		}
	}
}

// Start runs Tick immediately and then every interval.
func (s *Scheduler) Start() error {
	sch, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sch.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.Tick),
		gocron.WithName("sync_scheduler"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		sch.Shutdown()
		return fmt.Errorf("scheduling sync: %w", err)
	}
	sch.Start()
	s.scheduler = sch
	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
