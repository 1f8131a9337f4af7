package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rogers-f/taskraid/internal/domain"
)

func seedTask(t *testing.T, db DBTX, id, owner string, d domain.Difficulty, createdAt int64) domain.Task {
	t.Helper()
	task := domain.Task{
		ID:         id,
		OwnerID:    owner,
		Title:      "task " + id,
		Difficulty: d,
		Status:     domain.TaskPending,
		CreatedAt:  createdAt,
	}
	if err := (&TaskRepo{}).Create(context.Background(), db, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
	return task
}

func TestTaskRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &TaskRepo{}

	seedTask(t, db, "t-1", "p-1", domain.DifficultyHard, 100)

	got, err := repo.GetByID(ctx, db, "t-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Difficulty != domain.DifficultyHard {
		t.Errorf("Difficulty = %q, want hard", got.Difficulty)
	}
	if got.Status != domain.TaskPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestTaskRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := (&TaskRepo{}).GetByID(context.Background(), db, "nonexistent")
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskRepo_MarkFinished_OnlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &TaskRepo{}

	seedTask(t, db, "t-1", "p-1", domain.DifficultyEasy, 100)

	if err := repo.MarkFinished(ctx, db, "t-1", domain.TaskCompleted, 200); err != nil {
		t.Fatalf("first MarkFinished: %v", err)
	}
	err := repo.MarkFinished(ctx, db, "t-1", domain.TaskCompleted, 300)
	if !errors.Is(err, domain.ErrTaskFinished) {
		t.Fatalf("expected ErrTaskFinished, got %v", err)
	}

	got, _ := repo.GetByID(ctx, db, "t-1")
	if got.CompletedAt != 200 {
		t.Errorf("CompletedAt = %d, want 200", got.CompletedAt)
	}
}

func TestTaskRepo_ListByOwner_FilterStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &TaskRepo{}

	seedTask(t, db, "t-1", "p-1", domain.DifficultyEasy, 100)
	seedTask(t, db, "t-2", "p-1", domain.DifficultyMedium, 101)
	seedTask(t, db, "t-3", "p-2", domain.DifficultyHard, 102)
	repo.MarkFinished(ctx, db, "t-1", domain.TaskCompleted, 200)

	all, err := repo.ListByOwner(ctx, db, "p-1", "")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(all))
	}

	pending, err := repo.ListByOwner(ctx, db, "p-1", domain.TaskPending)
	if err != nil {
		t.Fatalf("ListByOwner pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t-2" {
		t.Errorf("pending = %+v, want only t-2", pending)
	}
}

func TestTaskRepo_ListStale_SkipsDuelBound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &TaskRepo{}

	seedTask(t, db, "old-1", "p-1", domain.DifficultyEasy, 100)
	seedTask(t, db, "old-2", "p-1", domain.DifficultyHard, 100)
	seedTask(t, db, "fresh", "p-1", domain.DifficultyEasy, 5000)

	if err := (&DuelRepo{}).Create(ctx, db, domain.Duel{
		ID: "d-1", ChallengerID: "p-1", ChallengedID: "p-2",
		ChallengerHP: 100, ChallengedHP: 100, Status: domain.DuelActive,
	}); err != nil {
		t.Fatalf("create duel: %v", err)
	}
	if err := (&SelectionRepo{}).Create(ctx, db, domain.DuelSelection{
		ID: "s-1", DuelID: "d-1", PlayerID: "p-1", TaskID: "old-2", Difficulty: domain.DifficultyHard, Locked: true,
	}); err != nil {
		t.Fatalf("create selection: %v", err)
	}

	got, err := repo.ListStale(ctx, db, "p-1", 1000)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(got) != 1 || got[0].ID != "old-1" {
		t.Errorf("stale = %+v, want only old-1", got)
	}
}
