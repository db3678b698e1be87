package data

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/nombot/src/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedNominee(t *testing.T, repo *GormNomineeRepo, id, guild, name string, state types.NomineeState, createdAt time.Time) *types.Nominee {
	t.Helper()
	n := &types.Nominee{
		ID:        id,
		GuildID:   guild,
		Name:      name,
		Nominator: "user-1",
		State:     state,
		CreatedAt: createdAt,
	}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return n
}

func TestListActiveFIFOOrder(t *testing.T) {
	repo := NewNomineeRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	seedNominee(t, repo, "b", "g1", "bob", types.StateActive, base.Add(time.Minute))
	seedNominee(t, repo, "a", "g1", "alice", types.StateActive, base)
	seedNominee(t, repo, "c", "g1", "carol", types.StateActive, base.Add(2*time.Minute))
	seedNominee(t, repo, "x", "g2", "xavier", types.StateActive, base)

	active, err := repo.ListActive(ctx, "g1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("got %d active, want 3", len(active))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if active[i].Name != want {
			t.Fatalf("position %d = %s, want %s", i+1, active[i].Name, want)
		}
	}
}

func TestFindByNameSkipsArchived(t *testing.T) {
	repo := NewNomineeRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	seedNominee(t, repo, "old", "g1", "alice", types.StatePast, base)

	if _, err := repo.FindByName(ctx, "g1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for archived name, got %v", err)
	}

	seedNominee(t, repo, "new", "g1", "alice", types.StateActive, base.Add(time.Hour))
	n, err := repo.FindByName(ctx, "g1", "alice")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if n.ID != "new" {
		t.Fatalf("got %s, want the open nomination", n.ID)
	}
}

func TestFindInProgress(t *testing.T) {
	repo := NewNomineeRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.FindInProgress(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty guild, got %v", err)
	}

	seedNominee(t, repo, "a", "g1", "alice", types.StateActive, base)
	seedNominee(t, repo, "b", "g1", "bob", types.StateVote, base.Add(time.Minute))

	n, err := repo.FindInProgress(ctx, "g1")
	if err != nil {
		t.Fatalf("FindInProgress: %v", err)
	}
	if n.Name != "bob" {
		t.Fatalf("got %s, want bob", n.Name)
	}
}

func TestUpdateStateIfConditional(t *testing.T) {
	repo := NewNomineeRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	seedNominee(t, repo, "a", "g1", "alice", types.StateActive, base)

	ok, err := repo.UpdateStateIf(ctx, "a", types.StateActive, map[string]interface{}{
		"state": types.StateDiscussion,
	})
	if err != nil || !ok {
		t.Fatalf("UpdateStateIf(active): ok=%v err=%v", ok, err)
	}

	// Stale expectation must not write.
	ok, err = repo.UpdateStateIf(ctx, "a", types.StateActive, map[string]interface{}{
		"state": types.StateVote,
	})
	if err != nil {
		t.Fatalf("UpdateStateIf(stale): %v", err)
	}
	if ok {
		t.Fatalf("stale conditional update reported success")
	}

	n, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.State != types.StateDiscussion {
		t.Fatalf("state = %s, want discussion", n.State)
	}
}

func TestGuildsListsOnlyOpenWork(t *testing.T) {
	repo := NewNomineeRepo(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	seedNominee(t, repo, "a", "g1", "alice", types.StateActive, base)
	seedNominee(t, repo, "b", "g1", "bob", types.StateActive, base.Add(time.Minute))
	seedNominee(t, repo, "c", "g2", "carol", types.StateCleanup, base)
	seedNominee(t, repo, "d", "g3", "dave", types.StatePast, base)

	guilds, err := repo.Guilds(ctx)
	if err != nil {
		t.Fatalf("Guilds: %v", err)
	}
	if len(guilds) != 2 {
		t.Fatalf("got %v, want g1 and g2 only", guilds)
	}
}

func TestBallotUpsertAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CastBallot(ctx, db, "nom-1", "hash-a", true); err != nil {
		t.Fatalf("CastBallot: %v", err)
	}
	if err := CastBallot(ctx, db, "nom-1", "hash-b", false); err != nil {
		t.Fatalf("CastBallot: %v", err)
	}
	// Re-vote replaces, not duplicates.
	if err := CastBallot(ctx, db, "nom-1", "hash-a", false); err != nil {
		t.Fatalf("CastBallot(revote): %v", err)
	}

	yes, no, err := CountBallots(ctx, db, "nom-1")
	if err != nil {
		t.Fatalf("CountBallots: %v", err)
	}
	if yes != 0 || no != 2 {
		t.Fatalf("tally = %d/%d, want 0/2", yes, no)
	}
}
