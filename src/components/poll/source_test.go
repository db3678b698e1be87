package poll

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/nombot/src/data"
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
	if err := data.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixedMembers struct{ count int }

func (f fixedMembers) EligibleMemberCount(ctx context.Context, guildID string) (int, error) {
	return f.count, nil
}

func seedVoteNominee(t *testing.T, db *gorm.DB) *types.Nominee {
	t.Helper()
	n := &types.Nominee{
		ID: "nom-1", GuildID: "g1", Name: "alice", Nominator: "u1",
		State: types.StateVote, CreatedAt: time.Now(), VoteChannelID: "chan-1",
	}
	if err := db.Create(n).Error; err != nil {
		t.Fatalf("seed nominee: %v", err)
	}
	return n
}

func TestFetchNoPollAttached(t *testing.T) {
	db := newTestDB(t)
	src := NewSource(db, nil)

	got, err := src.Fetch(context.Background(), "chan-unknown")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil tally for unattached channel, got %+v", got)
	}
}

func TestFetchCountsAndCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	n := seedVoteNominee(t, db)
	src := NewSource(db, fixedMembers{count: 3})

	if err := src.Open(ctx, n.ID, n.VoteChannelID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := data.CastBallot(ctx, db, n.ID, "h1", true); err != nil {
		t.Fatalf("CastBallot: %v", err)
	}
	if err := data.CastBallot(ctx, db, n.ID, "h2", false); err != nil {
		t.Fatalf("CastBallot: %v", err)
	}

	got, err := src.Fetch(ctx, n.VoteChannelID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Yes != 1 || got.No != 1 || got.Completed {
		t.Fatalf("tally = %+v, want 1/1 incomplete", got)
	}

	// Third eligible voter casts: everyone has voted.
	if err := data.CastBallot(ctx, db, n.ID, "h3", true); err != nil {
		t.Fatalf("CastBallot: %v", err)
	}
	got, err = src.Fetch(ctx, n.VoteChannelID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !got.Completed || got.Yes != 2 {
		t.Fatalf("tally = %+v, want completed with 2 yes", got)
	}
}

func TestFetchClosedPollCompletes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	n := seedVoteNominee(t, db)
	src := NewSource(db, fixedMembers{count: 100})

	if err := src.Open(ctx, n.ID, n.VoteChannelID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Close(ctx, n.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := src.Fetch(ctx, n.VoteChannelID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !got.Completed {
		t.Fatalf("closed poll not reported complete: %+v", got)
	}
}

func TestHashVoterKeyedAndDeterministic(t *testing.T) {
	a := HashVoter("pepper", "123")
	if a != HashVoter("pepper", "123") {
		t.Fatalf("hash not deterministic")
	}
	if a == HashVoter("different", "123") {
		t.Fatalf("secret does not affect hash")
	}
	if a == HashVoter("pepper", "124") {
		t.Fatalf("voter id does not affect hash")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}
