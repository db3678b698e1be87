package data

import (
	"context"
	"errors"
	"time"

	"github.com/stake-plus/nombot/src/types"
	"gorm.io/gorm"
)

// CastBallot records one ballot per voter per nominee; re-voting
// replaces the previous ballot.
func CastBallot(ctx context.Context, db *gorm.DB, nomineeID, voterHash string, approve bool) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("nominee_id = ? AND voter_hash = ?", nomineeID, voterHash).
			Delete(&types.NomineeVote{}).Error; err != nil {
			return err
		}
		return tx.Create(&types.NomineeVote{
			NomineeID: nomineeID,
			VoterHash: voterHash,
			Approve:   approve,
			CreatedAt: time.Now(),
		}).Error
	})
}

// CountBallots aggregates yes/no for a nominee.
func CountBallots(ctx context.Context, db *gorm.DB, nomineeID string) (yes, no int, err error) {
	type agg struct {
		Approve bool
		Count   int
	}
	var rows []agg
	err = db.WithContext(ctx).Model(&types.NomineeVote{}).
		Select("approve, count(*) as count").
		Where("nominee_id = ?", nomineeID).
		Group("approve").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	for _, r := range rows {
		if r.Approve {
			yes = r.Count
		} else {
			no = r.Count
		}
	}
	return yes, no, nil
}

// OpenPoll creates the poll row for a nominee's vote channel if one
// does not exist yet.
func OpenPoll(ctx context.Context, db *gorm.DB, nomineeID, channelID string) error {
	poll := types.Poll{NomineeID: nomineeID, ChannelID: channelID, CreatedAt: time.Now()}
	return db.WithContext(ctx).
		Where(types.Poll{NomineeID: nomineeID}).
		FirstOrCreate(&poll).Error
}

// ClosePoll marks the nominee's poll closed; the next sweep finalizes
// the tally. Missing poll rows are ignored.
func ClosePoll(ctx context.Context, db *gorm.DB, nomineeID string) error {
	err := db.WithContext(ctx).Model(&types.Poll{}).
		Where("nominee_id = ?", nomineeID).
		Update("closed", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// GetPollByChannel resolves the poll attached to a vote channel.
func GetPollByChannel(ctx context.Context, db *gorm.DB, channelID string) (*types.Poll, error) {
	var p types.Poll
	if err := db.WithContext(ctx).Where("channel_id = ?", channelID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
