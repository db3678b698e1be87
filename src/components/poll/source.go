package poll

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"

	"github.com/stake-plus/nombot/src/components/lifecycle"
	"github.com/stake-plus/nombot/src/data"
	"gorm.io/gorm"
)

// Source is the structured poll integration: ballots live in the
// nominee_votes table (cast through the API), the poll row carries the
// closed flag. Implements lifecycle.TallySource.
type Source struct {
	db      *gorm.DB
	members lifecycle.MemberSource // optional, enables all-voted completion
}

func NewSource(db *gorm.DB, members lifecycle.MemberSource) *Source {
	return &Source{db: db, members: members}
}

func (s *Source) Open(ctx context.Context, nomineeID, voteChannelID string) error {
	return data.OpenPoll(ctx, s.db, nomineeID, voteChannelID)
}

// Close marks the nominee's poll closed; the next sweep finalizes it.
func (s *Source) Close(ctx context.Context, nomineeID string) error {
	return data.ClosePoll(ctx, s.db, nomineeID)
}

// Fetch returns the tally for a vote channel, or nil when no poll is
// attached yet. Completed once the poll is closed or every eligible
// member has voted.
func (s *Source) Fetch(ctx context.Context, voteChannelID string) (*lifecycle.PollTally, error) {
	p, err := data.GetPollByChannel(ctx, s.db, voteChannelID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	yes, no, err := data.CountBallots(ctx, s.db, p.NomineeID)
	if err != nil {
		return nil, err
	}

	t := &lifecycle.PollTally{Yes: yes, No: no, Completed: p.Closed}
	if !t.Completed && s.members != nil {
		var n struct{ GuildID string }
		if err := s.db.WithContext(ctx).Table("nominees").
			Select("guild_id").Where("id = ?", p.NomineeID).Scan(&n).Error; err == nil && n.GuildID != "" {
			if eligible, err := s.members.EligibleMemberCount(ctx, n.GuildID); err != nil {
				log.Printf("poll: eligible count for guild %s: %v", n.GuildID, err)
			} else if eligible > 0 && yes+no >= eligible {
				t.Completed = true
			}
		}
	}
	return t, nil
}

// HashVoter anonymizes a voter ID with a keyed one-way hash; raw IDs
// never reach the ballot table.
func HashVoter(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
