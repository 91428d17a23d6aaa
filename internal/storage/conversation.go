package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Conversation turns ---

// AppendTurn persists t at the end of the user's history and returns it with
// its assigned id and sequence number.
func (s *Store) AppendTurn(t Turn) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO turns (id, user_id, role, content, tool_name, tool_args, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Role, t.Content, t.ToolName, t.ToolArgs, stamp(t.CreatedAt),
	)
	if err != nil {
		return Turn{}, fmt.Errorf("appending turn: %w", err)
	}
	if t.Seq, err = res.LastInsertId(); err != nil {
		return Turn{}, fmt.Errorf("reading turn sequence: %w", err)
	}
	return t, nil
}

// RecentTurns returns the limit most recent turns for the user, oldest first.
func (s *Store) RecentTurns(userID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT seq, id, user_id, role, content, tool_name, tool_args, created_at FROM (
			SELECT * FROM turns WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.ID, &t.UserID, &t.Role, &t.Content, &t.ToolName, &t.ToolArgs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if t.CreatedAt, err = unstamp(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Standing instructions ---

func (s *Store) AddInstruction(userID, text string) (Instruction, error) {
	in := Instruction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Text:      text,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO instructions (id, user_id, text, active, created_at) VALUES (?, ?, ?, 1, ?)`,
		in.ID, in.UserID, in.Text, stamp(in.CreatedAt),
	)
	if err != nil {
		return Instruction{}, fmt.Errorf("adding instruction: %w", err)
	}
	return in, nil
}

// ActiveInstructions returns the user's active instructions in creation order.
func (s *Store) ActiveInstructions(userID string) ([]Instruction, error) {
	return s.queryInstructions(`SELECT id, user_id, text, active, created_at FROM instructions
		WHERE user_id = ? AND active = 1 ORDER BY created_at ASC, rowid ASC`, userID)
}

// Instructions returns every instruction the user has given, active or not.
func (s *Store) Instructions(userID string) ([]Instruction, error) {
	return s.queryInstructions(`SELECT id, user_id, text, active, created_at FROM instructions
		WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
}

// GetInstruction returns ErrNotFound for an unknown id.
func (s *Store) GetInstruction(id string) (Instruction, error) {
	list, err := s.queryInstructions(`SELECT id, user_id, text, active, created_at FROM instructions WHERE id = ?`, id)
	if err != nil {
		return Instruction{}, err
	}
	if len(list) == 0 {
		return Instruction{}, ErrNotFound
	}
	return list[0], nil
}

// SetInstructionActive toggles an instruction. Nothing in the agent calls it;
// it backs the administrative API.
func (s *Store) SetInstructionActive(id string, active bool) error {
	res, err := s.db.Exec(`UPDATE instructions SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryInstructions(query string, args ...any) ([]Instruction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying instructions: %w", err)
	}
	defer rows.Close()

	var list []Instruction
	for rows.Next() {
		var in Instruction
		var active int
		var createdAt string
		if err := rows.Scan(&in.ID, &in.UserID, &in.Text, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning instruction: %w", err)
		}
		in.Active = active == 1
		if in.CreatedAt, err = unstamp(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		list = append(list, in)
	}
	return list, rows.Err()
}

// --- Tasks ---

// CreateTask records a pending hand-off task for the user.
func (s *Store) CreateTask(userID, taskType, description, taskContext string) (Task, error) {
	now := time.Now().UTC()
	t := Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        taskType,
		Description: description,
		Context:     taskContext,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, type, description, context, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Type, t.Description, t.Context, t.Status,
		stamp(now), stamp(now),
	)
	if err != nil {
		return Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow(`SELECT id, user_id, type, description, context, status, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns the user's tasks, newest first.
func (s *Store) ListTasks(userID string) ([]Task, error) {
	rows, err := s.db.Query(`SELECT id, user_id, type, description, context, status, created_at, updated_at
		FROM tasks WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Description, &t.Context, &t.Status, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	var err error
	if t.CreatedAt, err = unstamp(createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = unstamp(updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
