// Package monitor polls each user's mailbox and calendar and hands events
// it has not seen before to the agent.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/aide/internal/agent"
	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/metrics"
	"github.com/kalambet/aide/internal/storage"
)

const (
	mailQuery        = "in:inbox"
	mailPageSize     = 5
	calendarPageSize = 10
	maxConcurrency   = 4
)

// Users lists the accounts the monitor watches.
type Users interface {
	UsersWithMailAccess() ([]storage.User, error)
	UsersWithCalendarAccess() ([]storage.User, error)
}

// EventHandler reacts to a newly observed event.
type EventHandler interface {
	HandleExternalEvent(ctx context.Context, user storage.User, ev agent.Event) string
}

// MailIndexer adds a received message to the knowledge base.
type MailIndexer interface {
	IndexMail(ctx context.Context, owner string, msg gateway.MailMessage)
}

// Config sets the poll periods and dedup capacity. Zero values take the
// package defaults.
type Config struct {
	MailInterval     time.Duration
	CalendarInterval time.Duration
	SeenCapacity     int
}

// Monitor runs the mail and calendar loops. Each loop keeps its own
// per-user SeenSet.
type Monitor struct {
	users     Users
	connector gateway.Connector
	handler   EventHandler
	indexer   MailIndexer
	metrics   *metrics.Metrics
	cfg       Config

	mailSeen     *seenSets
	calendarSeen *seenSets

	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// New creates a Monitor. indexer and m may be nil.
func New(users Users, connector gateway.Connector, handler EventHandler, indexer MailIndexer, m *metrics.Metrics, cfg Config) *Monitor {
	if cfg.MailInterval <= 0 {
		cfg.MailInterval = 60 * time.Second
	}
	if cfg.CalendarInterval <= 0 {
		cfg.CalendarInterval = 120 * time.Second
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultSeenCapacity
	}
	return &Monitor{
		users:        users,
		connector:    connector,
		handler:      handler,
		indexer:      indexer,
		metrics:      m,
		cfg:          cfg,
		mailSeen:     newSeenSets(cfg.SeenCapacity),
		calendarSeen: newSeenSets(cfg.SeenCapacity),
		logger:       slog.Default(),
	}
}

// Start schedules both loops. A tick still running when the next one is due
// delays it rather than overlapping.
func (m *Monitor) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	loops := []struct {
		name  string
		every time.Duration
		poll  func(context.Context)
	}{
		{"mail", m.cfg.MailInterval, m.PollMail},
		{"calendar", m.cfg.CalendarInterval, m.PollCalendar},
	}
	for _, l := range loops {
		poll := l.poll
		_, err := s.NewJob(
			gocron.DurationJob(l.every),
			gocron.NewTask(func() { poll(ctx) }),
			gocron.WithName("monitor_"+l.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("scheduling %s loop: %w", l.name, err)
		}
	}

	s.Start()
	m.scheduler = s
	m.logger.Info("monitor started", "mail_interval", m.cfg.MailInterval, "calendar_interval", m.cfg.CalendarInterval)
	return nil
}

// Stop shuts the scheduler down and waits for running ticks.
func (m *Monitor) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

// PollMail checks the inbox of every user with mail access once.
func (m *Monitor) PollMail(ctx context.Context) {
	users, err := m.users.UsersWithMailAccess()
	if err != nil {
		m.logger.Error("listing mail users", "loop", "mail", "error", err)
		return
	}
	m.forEachUser(ctx, "mail", users, m.pollUserMail)
}

// PollCalendar checks the upcoming events of every user with calendar
// access once.
func (m *Monitor) PollCalendar(ctx context.Context) {
	users, err := m.users.UsersWithCalendarAccess()
	if err != nil {
		m.logger.Error("listing calendar users", "loop", "calendar", "error", err)
		return
	}
	m.forEachUser(ctx, "calendar", users, m.pollUserCalendar)
}

// forEachUser runs poll for every user with bounded concurrency. A failing
// user is logged and does not affect the others.
func (m *Monitor) forEachUser(ctx context.Context, loop string, users []storage.User, poll func(context.Context, storage.User) error) {
	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for _, u := range users {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("monitor panic", "loop", loop, "user_id", u.ID, "panic", r)
				}
			}()
			if err := poll(ctx, u); err != nil {
				m.logger.Warn("monitor poll failed", "loop", loop, "user_id", u.ID, "error", err)
				m.metrics.RecordMonitorEvent(loop, "poll_error")
			}
			return nil
		})
	}
	g.Wait()
}

func (m *Monitor) pollUserMail(ctx context.Context, user storage.User) error {
	mail, err := m.connector.Mail(user)
	if err != nil {
		return err
	}
	msgs, err := mail.List(ctx, mailQuery, mailPageSize)
	if err != nil {
		return fmt.Errorf("listing mail: %w", err)
	}

	seen := m.mailSeen.forUser(user.ID)
	for _, msg := range msgs {
		if isOwnMessage(user, msg) {
			continue
		}
		if seen.Seen(msg.ID) {
			continue
		}
		seen.Mark(msg.ID)
		m.deliver("mail", user, msg.ID, func() {
			if m.indexer != nil {
				m.indexer.IndexMail(ctx, user.ID, msg)
			}
			m.handler.HandleExternalEvent(ctx, user, agent.MailEvent(msg))
		})
	}
	return nil
}

func (m *Monitor) pollUserCalendar(ctx context.Context, user storage.User) error {
	cal, err := m.connector.Calendar(user)
	if err != nil {
		return err
	}
	events, err := cal.Upcoming(ctx, calendarPageSize)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	seen := m.calendarSeen.forUser(user.ID)
	for _, ev := range events {
		if seen.Seen(ev.ID) {
			continue
		}
		seen.Mark(ev.ID)
		m.deliver("calendar", user, ev.ID, func() {
			m.handler.HandleExternalEvent(ctx, user, agent.CalendarEvent(ev))
		})
	}
	return nil
}

// deliver runs handle for one event that is already marked seen. A panic
// is logged and ends only this event, so the rest of the page still runs
// and the event is not retried.
func (m *Monitor) deliver(loop string, user storage.User, eventID string, handle func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panic", "loop", loop, "user_id", user.ID, "event_id", eventID, "panic", r)
			m.metrics.RecordMonitorEvent(loop, "panic")
		}
	}()
	handle()
	m.metrics.RecordMonitorEvent(loop, "handled")
}

// isOwnMessage reports whether msg was sent by user.
func isOwnMessage(user storage.User, msg gateway.MailMessage) bool {
	_, from := msg.Sender()
	return user.Email != "" && strings.EqualFold(strings.TrimSpace(from), user.Email)
}
