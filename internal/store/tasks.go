package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Task is a single todo item. Every task has exactly one owner.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"is_completed"`
	OwnerID     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskFilter selects which tasks ListTasks returns.
type TaskFilter string

const (
	// FilterAll returns every task.
	FilterAll TaskFilter = ""
	// FilterPending returns incomplete tasks only.
	FilterPending TaskFilter = "pending"
	// FilterCompleted returns completed tasks only.
	FilterCompleted TaskFilter = "completed"
)

// CreateTask inserts a new incomplete task owned by ownerID.
func (s *Store) CreateTask(ctx context.Context, ownerID, title string) (*Task, error) {
	t := &Task{
		ID:        newID(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now(),
	}
	t.UpdatedAt = t.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, is_completed, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.IsCompleted, t.OwnerID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// ListTasks returns ownerID's tasks newest first, optionally filtered
// by completion status. Unrecognized filter values behave like FilterAll.
func (s *Store) ListTasks(ctx context.Context, ownerID string, filter TaskFilter) ([]Task, error) {
	query := `SELECT id, title, is_completed, owner_id, created_at, updated_at
	          FROM tasks WHERE owner_id = ?`
	switch filter {
	case FilterPending:
		query += ` AND is_completed = FALSE`
	case FilterCompleted:
		query += ` AND is_completed = TRUE`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.IsCompleted, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given id if ownerID owns it.
func (s *Store) GetTask(ctx context.Context, ownerID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, is_completed, owner_id, created_at, updated_at
		 FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)

	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.IsCompleted, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

// UpdateTask applies the non-nil fields to the task, bumps updated_at,
// and returns the updated row. Completing an already-completed task is
// a no-op that still succeeds.
func (s *Store) UpdateTask(ctx context.Context, ownerID, id string, title *string, isCompleted *bool) (*Task, error) {
	t, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		t.Title = *title
	}
	if isCompleted != nil {
		t.IsCompleted = *isCompleted
	}
	t.UpdatedAt = now()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, is_completed = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		t.Title, t.IsCompleted, t.UpdatedAt, t.ID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

// DeleteTask removes the task if ownerID owns it and returns its title.
func (s *Store) DeleteTask(ctx context.Context, ownerID, id string) (string, error) {
	t, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return "", fmt.Errorf("delete task: %w", err)
	}
	return t.Title, nil
}
