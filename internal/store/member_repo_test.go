package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rogers-f/taskraid/internal/domain"
)

func TestMemberRepo_AddAndActiveRaid(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	seedRaid(t, db, "r-1", 100)
	if err := repo.Add(ctx, db, domain.RaidMember{RaidID: "r-1", PlayerID: "p-1", JoinedAt: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	id, err := repo.ActiveRaidID(ctx, db, "p-1")
	if err != nil {
		t.Fatalf("ActiveRaidID: %v", err)
	}
	if id != "r-1" {
		t.Errorf("ActiveRaidID = %q, want r-1", id)
	}

	id, _ = repo.ActiveRaidID(ctx, db, "p-2")
	if id != "" {
		t.Errorf("ActiveRaidID for non-member = %q, want empty", id)
	}
}

func TestMemberRepo_LeaveAndRejoin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	seedRaid(t, db, "r-1", 100)
	repo.Add(ctx, db, domain.RaidMember{RaidID: "r-1", PlayerID: "p-1", JoinedAt: 1})
	repo.AddDamage(ctx, db, "r-1", "p-1", 12)

	if err := repo.MarkLeft(ctx, db, "r-1", "p-1", 5); err != nil {
		t.Fatalf("MarkLeft: %v", err)
	}
	if err := repo.MarkLeft(ctx, db, "r-1", "p-1", 6); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Errorf("second MarkLeft: expected ErrMemberNotFound, got %v", err)
	}
	if err := repo.AddDamage(ctx, db, "r-1", "p-1", 1); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Errorf("AddDamage after leave: expected ErrMemberNotFound, got %v", err)
	}

	members, _ := repo.ListActive(ctx, db, "r-1")
	if len(members) != 0 {
		t.Fatalf("expected no active members, got %d", len(members))
	}

	repo.Add(ctx, db, domain.RaidMember{RaidID: "r-1", PlayerID: "p-1", JoinedAt: 10})
	m, err := repo.Get(ctx, db, "r-1", "p-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.LeftAt != 0 || m.DamageDealt != 12 {
		t.Errorf("rejoined member = %+v, want left_at 0 and damage 12", m)
	}
}

func TestMemberRepo_ClaimDailyCheck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	seedRaid(t, db, "r-1", 100)
	repo.Add(ctx, db, domain.RaidMember{RaidID: "r-1", PlayerID: "p-1", JoinedAt: 1})

	ok, err := repo.ClaimDailyCheck(ctx, db, "r-1", "p-1", "2026-03-01")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true, nil", ok, err)
	}
	ok, _ = repo.ClaimDailyCheck(ctx, db, "r-1", "p-1", "2026-03-01")
	if ok {
		t.Error("second claim on same day should report false")
	}
	ok, _ = repo.ClaimDailyCheck(ctx, db, "r-1", "p-1", "2026-03-02")
	if !ok {
		t.Error("claim on next day should succeed")
	}
}

func TestMemberRepo_TaskCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &MemberRepo{}

	seedRaid(t, db, "r-1", 100)
	repo.Add(ctx, db, domain.RaidMember{RaidID: "r-1", PlayerID: "p-1", JoinedAt: 1})

	if err := repo.SetTaskCounter(ctx, db, "r-1", "p-1", 2); err != nil {
		t.Fatalf("SetTaskCounter: %v", err)
	}
	m, _ := repo.Get(ctx, db, "r-1", "p-1")
	if m.TaskCounter != 2 {
		t.Errorf("TaskCounter = %d, want 2", m.TaskCounter)
	}
}
