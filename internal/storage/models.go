package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is a directory entry together with the credentials the gateways need
// to act on the user's behalf.
type User struct {
	ID                string
	Email             string
	Name              string
	GoogleAccessToken string
	HubSpotToken      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasMailAccess reports whether a Google token is on file.
func (u User) HasMailAccess() bool { return u.GoogleAccessToken != "" }

// HasCalendarAccess reports whether a Google token is on file.
func (u User) HasCalendarAccess() bool { return u.GoogleAccessToken != "" }

// HasCRMAccess reports whether a HubSpot token is on file.
func (u User) HasCRMAccess() bool { return u.HubSpotToken != "" }

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is one persisted conversation entry.
type Turn struct {
	ID        string
	UserID    string
	Seq       int64
	Role      string
	Content   string
	ToolName  string
	ToolArgs  string // JSON object text, set on assistant tool-call turns
	CreatedAt time.Time
}

type Instruction struct {
	ID        string
	UserID    string
	Text      string
	Active    bool
	CreatedAt time.Time
}

// Task statuses. Only TaskPending is ever written by this module.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

type Task struct {
	ID          string
	UserID      string
	Type        string
	Description string
	Context     string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
