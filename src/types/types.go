package types

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// NomineeState is the lifecycle stage of a nomination.
type NomineeState uint8

const (
	StateActive NomineeState = iota + 1
	StateDiscussion
	StateVote
	StateCleanup
	StatePast
)

func (s NomineeState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDiscussion:
		return "discussion"
	case StateVote:
		return "vote"
	case StateCleanup:
		return "cleanup"
	case StatePast:
		return "past"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// InFlight reports whether the state occupies the single in-flight slot
// of its guild (at most one nominee per guild may hold such a state).
func (s NomineeState) InFlight() bool {
	return s == StateDiscussion || s == StateVote || s == StateCleanup
}

// MessageRefs is a list of Discord message IDs stored as a single text
// column. Empty entries are dropped on scan.
type MessageRefs []string

func (m MessageRefs) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "", nil
	}
	return strings.Join(m, ","), nil
}

func (m *MessageRefs) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("message refs: unsupported type %T", src)
	}
	*m = nil
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*m = append(*m, part)
		}
	}
	return nil
}

// Nominee is one candidate progressing through the nomination lifecycle.
// CreatedAt defines FIFO queue order among Active nominees of a guild.
type Nominee struct {
	ID        string       `gorm:"size:36;primaryKey"`
	GuildID   string       `gorm:"size:32;index;not null"`
	Name      string       `gorm:"size:64;not null"`
	Nominator string       `gorm:"size:32;not null"`
	State     NomineeState `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	DiscussionStart *time.Time
	VoteStart       *time.Time
	CleanupStart    *time.Time

	DiscussionChannelID string `gorm:"size:32"`
	VoteChannelID       string `gorm:"size:32"`

	VoteYes    *int
	VoteNo     *int
	VotePassed *bool

	AnnouncementIDs MessageRefs `gorm:"type:text"`
	BotMessageIDs   MessageRefs `gorm:"type:text"`
}

// NomineeVote is one anonymized ballot. VoterHash is a keyed one-way
// hash of the voter identity; raw IDs are never stored.
type NomineeVote struct {
	ID        uint64 `gorm:"primaryKey"`
	NomineeID string `gorm:"size:36;index:idx_nominee_voter,unique;not null"`
	VoterHash string `gorm:"size:64;index:idx_nominee_voter,unique;not null"`
	Approve   bool
	CreatedAt time.Time
}

// Poll tracks the voting widget attached to a nominee's vote channel.
type Poll struct {
	ID        uint64 `gorm:"primaryKey"`
	NomineeID string `gorm:"size:36;uniqueIndex;not null"`
	ChannelID string `gorm:"size:32;index;not null"`
	Closed    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Setting is a name/value configuration row with env fallback handling
// in the config package.
type Setting struct {
	ID    uint16 `gorm:"primaryKey"`
	Name  string `gorm:"size:64;uniqueIndex"`
	Value string `gorm:"size:255"`
}
