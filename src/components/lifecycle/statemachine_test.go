package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *data.GormNomineeRepo {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := data.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return data.NewNomineeRepo(db)
}

func mustCreate(t *testing.T, repo *data.GormNomineeRepo, n *types.Nominee) *types.Nominee {
	t.Helper()
	if n.Nominator == "" {
		n.Nominator = "user-1"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("create %s: %v", n.Name, err)
	}
	return n
}

func TestTransitionSkippingDiscussionFails(t *testing.T) {
	repo := newTestRepo(t)
	machine := NewStateMachine(repo)
	ctx := context.Background()

	mustCreate(t, repo, &types.Nominee{ID: "a", GuildID: "g1", Name: "alice", State: types.StateActive})

	_, err := machine.Transition(ctx, "a", types.StateVote, nil)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Failed transition must not touch the row.
	n, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.State != types.StateActive {
		t.Fatalf("state mutated to %s on failed transition", n.State)
	}
}

func TestSingleInFlightConflict(t *testing.T) {
	repo := newTestRepo(t)
	machine := NewStateMachine(repo)
	ctx := context.Background()

	mustCreate(t, repo, &types.Nominee{ID: "a", GuildID: "g1", Name: "alice", State: types.StateDiscussion})
	mustCreate(t, repo, &types.Nominee{ID: "b", GuildID: "g1", Name: "bob", State: types.StateActive})

	_, err := machine.Transition(ctx, "b", types.StateDiscussion, nil)
	var conflict *InProgressConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected InProgressConflictError, got %v", err)
	}
	if conflict.Blocking.Name != "alice" {
		t.Fatalf("conflict names %q, want the blocking nominee", conflict.Blocking.Name)
	}

	// A different guild is not blocked.
	mustCreate(t, repo, &types.Nominee{ID: "x", GuildID: "g2", Name: "xavier", State: types.StateActive})
	if _, err := machine.Transition(ctx, "x", types.StateDiscussion, nil); err != nil {
		t.Fatalf("cross-guild transition blocked: %v", err)
	}
}

func TestVoteRequiresDiscussionStart(t *testing.T) {
	repo := newTestRepo(t)
	machine := NewStateMachine(repo)
	ctx := context.Background()

	mustCreate(t, repo, &types.Nominee{ID: "a", GuildID: "g1", Name: "alice", State: types.StateDiscussion})

	_, err := machine.Transition(ctx, "a", types.StateVote, nil)
	var missing *MissingPreconditionError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingPreconditionError, got %v", err)
	}
}

func TestFullLifecycleKeepsSingleInFlight(t *testing.T) {
	repo := newTestRepo(t)
	machine := NewStateMachine(repo)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mustCreate(t, repo, &types.Nominee{ID: "a", GuildID: "g1", Name: "alice", State: types.StateActive})
	mustCreate(t, repo, &types.Nominee{ID: "b", GuildID: "g1", Name: "bob", State: types.StateActive})

	steps := []struct {
		target types.NomineeState
		fields map[string]interface{}
	}{
		{types.StateDiscussion, map[string]interface{}{"discussion_start": start}},
		{types.StateVote, map[string]interface{}{"vote_start": start.Add(time.Hour)}},
		{types.StateCleanup, map[string]interface{}{"cleanup_start": start.Add(2 * time.Hour)}},
		{types.StatePast, nil},
	}

	for _, step := range steps {
		if _, err := machine.Transition(ctx, "a", step.target, step.fields); err != nil {
			t.Fatalf("transition to %s: %v", step.target, err)
		}
		assertAtMostOneInFlight(t, repo, "g1")
	}

	// Past is terminal.
	if _, err := machine.Transition(ctx, "a", types.StateDiscussion, nil); err == nil {
		t.Fatalf("transition out of Past succeeded")
	}

	// The slot is free again for the next nominee.
	if _, err := machine.Transition(ctx, "b", types.StateDiscussion, nil); err != nil {
		t.Fatalf("slot not released after completion: %v", err)
	}
}

func TestForcedRemovalFromAnyStage(t *testing.T) {
	repo := newTestRepo(t)
	machine := NewStateMachine(repo)
	ctx := context.Background()

	for _, state := range []types.NomineeState{
		types.StateActive, types.StateDiscussion, types.StateVote, types.StateCleanup,
	} {
		id := "n-" + state.String()
		mustCreate(t, repo, &types.Nominee{ID: id, GuildID: "g-" + id, Name: id, State: state})
		if _, err := machine.Transition(ctx, id, types.StatePast, nil); err != nil {
			t.Fatalf("force to Past from %s: %v", state, err)
		}
	}
}

func assertAtMostOneInFlight(t *testing.T, repo *data.GormNomineeRepo, guildID string) {
	t.Helper()
	ctx := context.Background()
	count := 0
	for _, state := range []types.NomineeState{types.StateDiscussion, types.StateVote, types.StateCleanup} {
		if _, err := repo.FindInState(ctx, guildID, state); err == nil {
			count++
		} else if !errors.Is(err, data.ErrNotFound) {
			t.Fatalf("FindInState(%s): %v", state, err)
		}
	}
	if count > 1 {
		t.Fatalf("%d nominees in flight, want at most 1", count)
	}
}
