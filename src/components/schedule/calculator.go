package schedule

import (
	"time"

	"github.com/stake-plus/nombot/src/types"
)

// Calculator derives stage timestamps from a nominee's queue position.
// All methods are pure; the reference instant is always passed in so
// recomputation stays idempotent within a tick.
type Calculator struct {
	AnchorWeekday      time.Weekday
	AnchorHour         int
	Location           *time.Location
	DiscussionDuration time.Duration
	VoteDuration       time.Duration
	CleanupDuration    time.Duration
}

// Schedule is the full set of stage start times for one queue slot.
type Schedule struct {
	DiscussionStart time.Time
	VoteStart       time.Time
	CleanupStart    time.Time
}

// Assignment pairs a nominee with its recomputed schedule.
type Assignment struct {
	Nominee  types.Nominee
	Schedule Schedule
}

// NextAnchor returns the next weekly anchor instant at or after from.
// An instant exactly on the anchor is returned unchanged.
func (c Calculator) NextAnchor(from time.Time) time.Time {
	t := from.In(c.Location)
	days := (int(c.AnchorWeekday) - int(t.Weekday()) + 7) % 7
	anchor := time.Date(t.Year(), t.Month(), t.Day()+days, c.AnchorHour, 0, 0, 0, c.Location)
	if anchor.Before(t) {
		anchor = anchor.AddDate(0, 0, 7)
	}
	return anchor
}

// DiscussionStartFor returns the discussion start for a 1-based queue
// position: the head gets the next anchor, each later slot one week
// more. Slots are a fixed week apart regardless of configured stage
// durations, so the published queue stays predictable.
func (c Calculator) DiscussionStartFor(now time.Time, position int) time.Time {
	return c.NextAnchor(now).AddDate(0, 0, 7*(position-1))
}

// ScheduleFor derives the three stage starts for a queue position.
func (c Calculator) ScheduleFor(now time.Time, position int) Schedule {
	return c.scheduleFrom(c.DiscussionStartFor(now, position))
}

func (c Calculator) scheduleFrom(discussionStart time.Time) Schedule {
	voteStart := discussionStart.Add(c.DiscussionDuration)
	return Schedule{
		DiscussionStart: discussionStart,
		VoteStart:       voteStart,
		CleanupStart:    voteStart.Add(c.VoteDuration),
	}
}

// RecomputeQueue reassigns schedules to the whole Active queue, in the
// order given (callers pass the FIFO order from the repository).
func (c Calculator) RecomputeQueue(now time.Time, active []types.Nominee) []Assignment {
	out := make([]Assignment, 0, len(active))
	for i, n := range active {
		out = append(out, Assignment{Nominee: n, Schedule: c.ScheduleFor(now, i+1)})
	}
	return out
}

// RecomputeQueueFrom is RecomputeQueue with an explicit base for the
// head slot, used when a duration override or a completed nomination
// shifts the queue off the plain weekly grid: the head anchors to the
// next anchor at or after base, later slots keep the one-week spacing.
func (c Calculator) RecomputeQueueFrom(base time.Time, active []types.Nominee) []Assignment {
	head := c.NextAnchor(base)
	out := make([]Assignment, 0, len(active))
	for i, n := range active {
		out = append(out, Assignment{Nominee: n, Schedule: c.scheduleFrom(head.AddDate(0, 0, 7*i))})
	}
	return out
}
