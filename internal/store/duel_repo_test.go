package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rogers-f/taskraid/internal/domain"
)

func seedDuel(t *testing.T, db DBTX, id string, status domain.DuelStatus) domain.Duel {
	t.Helper()
	d := domain.Duel{
		ID:           id,
		ChallengerID: "p-1",
		ChallengedID: "p-2",
		ChallengerHP: 100,
		ChallengedHP: 100,
		Status:       status,
	}
	if err := (&DuelRepo{}).Create(context.Background(), db, d); err != nil {
		t.Fatalf("seed duel %s: %v", id, err)
	}
	return d
}

func TestDuelRepo_Transition_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &DuelRepo{}

	seedDuel(t, db, "d-1", domain.DuelSelecting)

	ok, err := repo.Transition(ctx, db, "d-1", domain.DuelSelecting, domain.DuelActive, 1)
	if err != nil || !ok {
		t.Fatalf("first Transition = %v, %v; want true, nil", ok, err)
	}
	ok, err = repo.Transition(ctx, db, "d-1", domain.DuelSelecting, domain.DuelActive, 2)
	if err != nil {
		t.Fatalf("second Transition: %v", err)
	}
	if ok {
		t.Error("second Transition should report false")
	}

	got, _ := repo.GetByID(ctx, db, "d-1")
	if got.Status != domain.DuelActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
}

func TestDuelRepo_ApplyDamage_FloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &DuelRepo{}

	d := seedDuel(t, db, "d-1", domain.DuelActive)

	hp, err := repo.ApplyDamage(ctx, db, &d, "p-2", 95, 1)
	if err != nil {
		t.Fatalf("ApplyDamage: %v", err)
	}
	if hp != 5 {
		t.Errorf("hp = %d, want 5", hp)
	}
	hp, _ = repo.ApplyDamage(ctx, db, &d, "p-2", 25, 2)
	if hp != 0 {
		t.Errorf("hp = %d, want 0", hp)
	}

	got, _ := repo.GetByID(ctx, db, "d-1")
	if got.ChallengerHP != 100 {
		t.Errorf("ChallengerHP = %d, want 100", got.ChallengerHP)
	}
}

func TestDuelRepo_ApplyDamage_RequiresActive(t *testing.T) {
	db := newTestDB(t)
	d := seedDuel(t, db, "d-1", domain.DuelSelecting)

	_, err := (&DuelRepo{}).ApplyDamage(context.Background(), db, &d, "p-2", 15, 1)
	if !errors.Is(err, domain.ErrDuelClosed) {
		t.Errorf("expected ErrDuelClosed, got %v", err)
	}
}

func TestDuelRepo_Complete_OnlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &DuelRepo{}

	d := seedDuel(t, db, "d-1", domain.DuelActive)

	ok, _ := repo.Complete(ctx, db, "d-1", "p-1", 1)
	if ok {
		t.Fatal("Complete should require a side at zero HP")
	}

	repo.ApplyDamage(ctx, db, &d, "p-2", 100, 2)
	ok, err := repo.Complete(ctx, db, "d-1", "p-1", 3)
	if err != nil || !ok {
		t.Fatalf("Complete = %v, %v; want true, nil", ok, err)
	}
	ok, _ = repo.Complete(ctx, db, "d-1", "p-2", 4)
	if ok {
		t.Error("second Complete should report false")
	}

	got, _ := repo.GetByID(ctx, db, "d-1")
	if got.WinnerID != "p-1" {
		t.Errorf("WinnerID = %q, want p-1", got.WinnerID)
	}
}

func TestDuelRepo_HasOpen(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &DuelRepo{}

	seedDuel(t, db, "d-1", domain.DuelCancelled)
	open, _ := repo.HasOpen(ctx, db, "p-1")
	if open {
		t.Error("cancelled duel should not count as open")
	}

	seedDuel(t, db, "d-2", domain.DuelPending)
	open, _ = repo.HasOpen(ctx, db, "p-2")
	if !open {
		t.Error("pending duel should count as open")
	}

	all, err := repo.ListByPlayer(ctx, db, "p-1")
	if err != nil {
		t.Fatalf("ListByPlayer: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 duels, got %d", len(all))
	}
}
