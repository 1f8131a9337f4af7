package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const taskColumns = `id, owner_id, title, description, difficulty, status, is_habit, due_date, created_at, completed_at`

// TaskRepo handles persistence for Task records.
type TaskRepo struct{}

// Create inserts a new task.
func (r *TaskRepo) Create(ctx context.Context, db DBTX, t domain.Task) error {
	q := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	_, err := db.ExecContext(ctx, q,
		t.ID,
		t.OwnerID,
		t.Title,
		t.Description,
		string(t.Difficulty),
		string(t.Status),
		boolToInt(t.IsHabit),
		t.DueDate,
		t.CreatedAt,
		t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepo) GetByID(ctx context.Context, db DBTX, id string) (*domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListByOwner returns a player's tasks, optionally filtered by status.
func (r *TaskRepo) ListByOwner(ctx context.Context, db DBTX, ownerID string, status domain.TaskStatus) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListStale returns a player's pending tasks created before the cutoff,
// skipping any task bound into a duel that has not finished yet.
func (r *TaskRepo) ListStale(ctx context.Context, db DBTX, ownerID string, cutoff int64) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks t
WHERE t.owner_id = ? AND t.status = 'pending' AND t.created_at < ?
AND NOT EXISTS (
	SELECT 1 FROM duel_selections s JOIN duels d ON d.id = s.duel_id
	WHERE s.task_id = t.id AND d.status IN ('pending', 'selecting', 'active')
)
ORDER BY t.created_at ASC, t.id ASC`

	rows, err := db.QueryContext(ctx, q, ownerID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MarkFinished moves a pending task to a terminal status. It fails with
// ErrTaskFinished if the task was already completed or failed, which makes a
// second completion of the same task a no-op for reward purposes.
func (r *TaskRepo) MarkFinished(ctx context.Context, db DBTX, id string, status domain.TaskStatus, at int64) error {
	const q = `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = 'pending'`
	res, err := db.ExecContext(ctx, q, string(status), at, id)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return expectOne(res, domain.ErrTaskFinished)
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var difficulty, status string
	var habit int
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &difficulty, &status,
		&habit, &t.DueDate, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Difficulty = domain.Difficulty(difficulty)
	t.Status = domain.TaskStatus(status)
	t.IsHabit = habit != 0
	return &t, nil
}
