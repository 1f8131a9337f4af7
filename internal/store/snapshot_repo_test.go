package store

import (
	"context"
	"testing"

	"github.com/rogers-f/taskraid/internal/domain"
)

func TestSnapshotRepo_SaveAndGetLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SnapshotRepo{}

	snaps := []domain.DuelSnapshot{
		{DuelID: "d-1", Status: domain.DuelActive, ChallengerHP: 100, ChallengedHP: 100, SnapshotJSON: "{}", CreatedAt: 1},
		{DuelID: "d-1", Status: domain.DuelActive, ChallengerHP: 100, ChallengedHP: 85, SnapshotJSON: "{}", CreatedAt: 1},
		{DuelID: "d-1", Status: domain.DuelCompleted, ChallengerHP: 100, ChallengedHP: 0, SnapshotJSON: "{}", CreatedAt: 2},
	}
	for _, s := range snaps {
		if err := repo.Save(ctx, db, s); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := repo.GetLatest(ctx, db, "d-1", domain.DuelActive)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.ChallengedHP != 85 {
		t.Errorf("ChallengedHP = %d, want 85", got.ChallengedHP)
	}

	got, _ = repo.GetLatest(ctx, db, "d-1", domain.DuelCompleted)
	if got == nil || got.ChallengedHP != 0 {
		t.Errorf("completed snapshot = %+v", got)
	}
}

func TestSnapshotRepo_GetLatest_NotFound(t *testing.T) {
	db := newTestDB(t)

	got, err := (&SnapshotRepo{}).GetLatest(context.Background(), db, "nonexistent", domain.DuelPending)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}
