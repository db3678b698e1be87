package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stake-plus/nombot/src/components/schedule"
	"github.com/stake-plus/nombot/src/components/tally"
	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
)

const (
	// DefaultTickInterval drives the transition sweep.
	DefaultTickInterval = time.Minute
	// DefaultRecalcInterval drives the drift-correcting queue recalc.
	DefaultRecalcInterval = time.Hour

	// finalizeBuffer past cleanupStart tolerates late-arriving tallies
	// before the vote is finalized without a completed poll.
	finalizeBuffer = time.Minute

	// collaboratorTimeout bounds each external side-effect call so one
	// unresponsive collaborator cannot stall the whole tick.
	collaboratorTimeout = 10 * time.Second
)

// PollTally is a structured tally snapshot from the voting surface.
type PollTally struct {
	Yes       int
	No        int
	Completed bool
}

// TallySource is the poll integration contract: structured lookups
// only, no scraping of rendered widget text.
type TallySource interface {
	Open(ctx context.Context, nomineeID, voteChannelID string) error
	Fetch(ctx context.Context, voteChannelID string) (*PollTally, error)
}

// ChannelManager creates and tears down the platform-side discussion
// and voting surfaces. Failures never roll back committed transitions.
type ChannelManager interface {
	CreateDiscussionChannel(ctx context.Context, n *types.Nominee) (string, error)
	CreateVoteChannel(ctx context.Context, n *types.Nominee) (string, error)
	Archive(ctx context.Context, channelID, reason string) error
	Delete(ctx context.Context, channelID, reason string) error
}

// Notifier posts stage announcements. Returned message IDs are kept so
// stale announcements can be removed during cleanup.
type Notifier interface {
	AnnounceDiscussionStart(ctx context.Context, n *types.Nominee, channelID string) (string, error)
	AnnounceVoteStart(ctx context.Context, n *types.Nominee, channelID string) (string, error)
	AnnounceResults(ctx context.Context, n *types.Nominee, verdict tally.Verdict) (string, error)
	DeleteMessages(ctx context.Context, refs types.MessageRefs) error
}

// MemberSource supplies the eligible voter count for quorum math.
type MemberSource interface {
	EligibleMemberCount(ctx context.Context, guildID string) (int, error)
}

// EventPublisher receives committed transitions, best effort.
type EventPublisher interface {
	PublishTransition(ctx context.Context, n *types.Nominee, from, to types.NomineeState)
}

// SchedulerConfig wires the scheduler's collaborators and policy.
type SchedulerConfig struct {
	Repo     data.NomineeRepo
	Machine  *StateMachine
	Calc     schedule.Calculator
	Channels ChannelManager
	Notifier Notifier
	Polls    TallySource
	Members  MemberSource
	Events   EventPublisher // optional

	QuorumFraction float64
	PassFraction   float64

	TickInterval   time.Duration // defaults to DefaultTickInterval
	RecalcInterval time.Duration // defaults to DefaultRecalcInterval
	Now            func() time.Time
}

// Scheduler drives time-based transitions: a transition sweep every
// tick and a queue recalculation sweep every recalc interval. Guilds
// are processed sequentially within a tick; a failure in one guild is
// logged and does not block the others.
type Scheduler struct {
	repo     data.NomineeRepo
	machine  *StateMachine
	calc     schedule.Calculator
	channels ChannelManager
	notifier Notifier
	polls    TallySource
	members  MemberSource
	events   EventPublisher

	quorumFraction float64
	passFraction   float64

	tickInterval   time.Duration
	recalcInterval time.Duration
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RecalcInterval == 0 {
		cfg.RecalcInterval = DefaultRecalcInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QuorumFraction == 0 {
		cfg.QuorumFraction = tally.DefaultQuorumFraction
	}
	if cfg.PassFraction == 0 {
		cfg.PassFraction = tally.DefaultPassFraction
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:           cfg.Repo,
		machine:        cfg.Machine,
		calc:           cfg.Calc,
		channels:       cfg.Channels,
		notifier:       cfg.Notifier,
		polls:          cfg.Polls,
		members:        cfg.Members,
		events:         cfg.Events,
		quorumFraction: cfg.QuorumFraction,
		passFraction:   cfg.PassFraction,
		tickInterval:   cfg.TickInterval,
		recalcInterval: cfg.RecalcInterval,
		now:            cfg.Now,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches both sweep loops. Safe to call once.
func (s *Scheduler) Start() {
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				log.Println("Stopping transition sweep")
				return
			case <-ticker.C:
				s.SweepAll(s.ctx)
			}
		}
	}()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.recalcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				log.Println("Stopping recalculation sweep")
				return
			case <-ticker.C:
				s.RecalcAll(s.ctx)
			}
		}
	}()
}

// Stop cancels the loops and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// SweepAll runs one transition sweep over every guild with nominees.
func (s *Scheduler) SweepAll(ctx context.Context) {
	guilds, err := s.repo.Guilds(ctx)
	if err != nil {
		log.Printf("sweep: list guilds: %v", err)
		return
	}
	for _, guildID := range guilds {
		if err := s.sweepGuild(ctx, guildID); err != nil {
			log.Printf("sweep guild %s: %v", guildID, err)
		}
	}
}

// RecalcAll recomputes every guild's Active queue as a drift safety net.
func (s *Scheduler) RecalcAll(ctx context.Context) {
	guilds, err := s.repo.Guilds(ctx)
	if err != nil {
		log.Printf("recalc: list guilds: %v", err)
		return
	}
	for _, guildID := range guilds {
		if err := s.RecalcGuild(ctx, guildID); err != nil {
			log.Printf("recalc guild %s: %v", guildID, err)
		}
	}
}

// sweepGuild applies at most one stage advance for the guild's single
// in-flight nominee, or starts the queue head when its slot has come.
func (s *Scheduler) sweepGuild(ctx context.Context, guildID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()

	now := s.now()

	cur, err := s.repo.FindInProgress(ctx, guildID)
	if errors.Is(err, data.ErrNotFound) {
		return s.maybeStartHead(ctx, guildID, now)
	}
	if err != nil {
		return err
	}

	switch cur.State {
	case types.StateDiscussion:
		if cur.VoteStart != nil && !now.Before(*cur.VoteStart) {
			return s.beginVote(ctx, cur, now)
		}
	case types.StateVote:
		return s.maybeFinishVote(ctx, cur, now, false)
	case types.StateCleanup:
		if cur.CleanupStart != nil && !now.Before(cur.CleanupStart.Add(s.calc.CleanupDuration)) {
			return s.complete(ctx, cur, now)
		}
	}
	return nil
}

func (s *Scheduler) maybeStartHead(ctx context.Context, guildID string, now time.Time) error {
	active, err := s.repo.ListActive(ctx, guildID)
	if err != nil || len(active) == 0 {
		return err
	}
	head := &active[0]
	if head.DiscussionStart == nil || now.Before(*head.DiscussionStart) {
		return nil
	}
	return s.beginDiscussion(ctx, head, now)
}

// beginDiscussion moves a nominee into Discussion. The actual start is
// stamped to now unless the scheduled start already lies in the past;
// vote and cleanup starts are derived from it.
func (s *Scheduler) beginDiscussion(ctx context.Context, n *types.Nominee, now time.Time) error {
	start := now
	if n.DiscussionStart != nil && n.DiscussionStart.Before(now) {
		start = *n.DiscussionStart
	}
	voteStart := start.Add(s.calc.DiscussionDuration)
	cleanupStart := voteStart.Add(s.calc.VoteDuration)

	updated, err := s.machine.Transition(ctx, n.ID, types.StateDiscussion, map[string]interface{}{
		"discussion_start": start,
		"vote_start":       voteStart,
		"cleanup_start":    cleanupStart,
	})
	if err != nil {
		return fmt.Errorf("begin discussion for %q: %w", n.Name, err)
	}
	log.Printf("Nomination %q entered discussion (guild %s)", updated.Name, updated.GuildID)
	s.publish(ctx, updated, n.State, types.StateDiscussion)

	// Side effects are best effort past this point.
	cctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	channelID, err := s.channels.CreateDiscussionChannel(cctx, updated)
	if err != nil {
		log.Printf("create discussion channel for %q: %v", updated.Name, err)
	} else if err := s.repo.Update(ctx, updated.ID, map[string]interface{}{"discussion_channel_id": channelID}); err != nil {
		log.Printf("store discussion channel for %q: %v", updated.Name, err)
	}

	if msgID, err := s.notifier.AnnounceDiscussionStart(cctx, updated, channelID); err != nil {
		log.Printf("announce discussion for %q: %v", updated.Name, err)
	} else {
		s.appendAnnouncement(ctx, updated, msgID)
	}
	return nil
}

func (s *Scheduler) beginVote(ctx context.Context, n *types.Nominee, now time.Time) error {
	fields := map[string]interface{}{}
	if n.CleanupStart == nil {
		fields["cleanup_start"] = now.Add(s.calc.VoteDuration)
	}

	updated, err := s.machine.Transition(ctx, n.ID, types.StateVote, fields)
	if err != nil {
		return fmt.Errorf("begin vote for %q: %w", n.Name, err)
	}
	log.Printf("Nomination %q entered vote (guild %s)", updated.Name, updated.GuildID)
	s.publish(ctx, updated, n.State, types.StateVote)

	cctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	channelID, err := s.channels.CreateVoteChannel(cctx, updated)
	if err != nil {
		log.Printf("create vote channel for %q: %v", updated.Name, err)
	} else {
		if err := s.repo.Update(ctx, updated.ID, map[string]interface{}{"vote_channel_id": channelID}); err != nil {
			log.Printf("store vote channel for %q: %v", updated.Name, err)
		}
		if err := s.polls.Open(ctx, updated.ID, channelID); err != nil {
			log.Printf("open poll for %q: %v", updated.Name, err)
		}
	}

	if msgID, err := s.notifier.AnnounceVoteStart(cctx, updated, channelID); err != nil {
		log.Printf("announce vote for %q: %v", updated.Name, err)
	} else {
		s.appendAnnouncement(ctx, updated, msgID)
	}
	return nil
}

// maybeFinishVote finalizes the vote once the poll reports completion
// or the cleanup start plus the finalization buffer has elapsed; force
// skips both checks (operator command).
func (s *Scheduler) maybeFinishVote(ctx context.Context, n *types.Nominee, now time.Time, force bool) error {
	var snapshot *PollTally
	if n.VoteChannelID != "" {
		cctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		t, err := s.polls.Fetch(cctx, n.VoteChannelID)
		cancel()
		if err != nil {
			log.Printf("fetch tally for %q: %v", n.Name, err)
		} else {
			snapshot = t
		}
	}

	completed := snapshot != nil && snapshot.Completed
	overdue := n.CleanupStart != nil && !now.Before(n.CleanupStart.Add(finalizeBuffer))
	if !force && !completed && !overdue {
		return nil
	}

	yes, no := 0, 0
	if snapshot != nil {
		yes, no = snapshot.Yes, snapshot.No
	}

	eligible, err := s.members.EligibleMemberCount(ctx, n.GuildID)
	if err != nil {
		return fmt.Errorf("eligible member count for guild %s: %w", n.GuildID, err)
	}
	verdict := tally.Evaluate(yes, no, eligible, s.quorumFraction, s.passFraction)

	fields := map[string]interface{}{
		"vote_yes":    verdict.Yes,
		"vote_no":     verdict.No,
		"vote_passed": verdict.Passed,
	}
	if n.CleanupStart == nil {
		fields["cleanup_start"] = now
	}

	updated, err := s.machine.Transition(ctx, n.ID, types.StateCleanup, fields)
	if err != nil {
		return fmt.Errorf("finish vote for %q: %w", n.Name, err)
	}
	log.Printf("Nomination %q vote closed: yes=%d no=%d passed=%v (guild %s)",
		updated.Name, verdict.Yes, verdict.No, verdict.Passed, updated.GuildID)
	s.publish(ctx, updated, n.State, types.StateCleanup)

	cctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	if msgID, err := s.notifier.AnnounceResults(cctx, updated, verdict); err != nil {
		log.Printf("announce results for %q: %v", updated.Name, err)
	} else {
		s.appendAnnouncement(ctx, updated, msgID)
	}
	if updated.VoteChannelID != "" {
		if err := s.channels.Archive(cctx, updated.VoteChannelID, "vote closed"); err != nil {
			log.Printf("archive vote channel for %q: %v", updated.Name, err)
		}
	}
	return nil
}

// complete archives the nominee, tears down its surfaces, rebases the
// queue off the completed run and promotes the new head if its slot
// has already come.
func (s *Scheduler) complete(ctx context.Context, n *types.Nominee, now time.Time) error {
	updated, err := s.machine.Transition(ctx, n.ID, types.StatePast, nil)
	if err != nil {
		return fmt.Errorf("complete %q: %w", n.Name, err)
	}
	log.Printf("Nomination %q archived (guild %s)", updated.Name, updated.GuildID)
	s.publish(ctx, updated, n.State, types.StatePast)

	cctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	if updated.DiscussionChannelID != "" {
		if err := s.channels.Delete(cctx, updated.DiscussionChannelID, "nomination archived"); err != nil {
			log.Printf("delete discussion channel for %q: %v", updated.Name, err)
		}
	}
	if updated.VoteChannelID != "" {
		if err := s.channels.Delete(cctx, updated.VoteChannelID, "nomination archived"); err != nil {
			log.Printf("delete vote channel for %q: %v", updated.Name, err)
		}
	}
	refs := append(types.MessageRefs{}, updated.AnnouncementIDs...)
	refs = append(refs, updated.BotMessageIDs...)
	if len(refs) > 0 {
		if err := s.notifier.DeleteMessages(cctx, refs); err != nil {
			log.Printf("delete messages for %q: %v", updated.Name, err)
		}
	}
	cancel()

	if err := s.recalcGuildFrom(ctx, updated.GuildID, now); err != nil {
		return err
	}
	return s.maybeStartHead(ctx, updated.GuildID, now)
}

// RecalcGuild reassigns schedules for the guild's whole Active queue
// against the plain weekly grid. Idempotent; rows only written when
// the schedule actually moved.
func (s *Scheduler) RecalcGuild(ctx context.Context, guildID string) error {
	return s.recalcGuildFrom(ctx, guildID, s.now())
}

func (s *Scheduler) recalcGuildFrom(ctx context.Context, guildID string, base time.Time) error {
	active, err := s.repo.ListActive(ctx, guildID)
	if err != nil {
		return err
	}
	for _, a := range s.calc.RecomputeQueueFrom(base, active) {
		if sameSchedule(a.Nominee, a.Schedule) {
			continue
		}
		ok, err := s.repo.UpdateStateIf(ctx, a.Nominee.ID, types.StateActive, map[string]interface{}{
			"discussion_start": a.Schedule.DiscussionStart,
			"vote_start":       a.Schedule.VoteStart,
			"cleanup_start":    a.Schedule.CleanupStart,
		})
		if err != nil {
			return err
		}
		if !ok {
			// left Active mid-recalc; the next sweep picks it up
			continue
		}
	}
	return nil
}

func sameSchedule(n types.Nominee, sch schedule.Schedule) bool {
	return n.DiscussionStart != nil && n.DiscussionStart.Equal(sch.DiscussionStart) &&
		n.VoteStart != nil && n.VoteStart.Equal(sch.VoteStart) &&
		n.CleanupStart != nil && n.CleanupStart.Equal(sch.CleanupStart)
}

// ForceStart begins discussion for the named nominee immediately (the
// queue head when name is empty), still subject to the single
// in-flight precondition.
func (s *Scheduler) ForceStart(ctx context.Context, guildID, name string) error {
	var target *types.Nominee
	if name == "" {
		active, err := s.repo.ListActive(ctx, guildID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return data.ErrNotFound
		}
		target = &active[0]
	} else {
		n, err := s.repo.FindByName(ctx, guildID, name)
		if err != nil {
			return err
		}
		target = n
	}
	return s.beginDiscussion(ctx, target, s.now())
}

// ForceCleanup finalizes the guild's in-Vote nominee right away,
// whatever the poll reports.
func (s *Scheduler) ForceCleanup(ctx context.Context, guildID string) error {
	n, err := s.repo.FindInState(ctx, guildID, types.StateVote)
	if err != nil {
		return err
	}
	return s.maybeFinishVote(ctx, n, s.now(), true)
}

// AdjustDiscussionDuration overrides the in-Discussion nominee's
// remaining discussion time and cascades the shifted cleanup end as
// the new base for the rest of the queue.
func (s *Scheduler) AdjustDiscussionDuration(ctx context.Context, guildID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	n, err := s.repo.FindInState(ctx, guildID, types.StateDiscussion)
	if err != nil {
		return err
	}
	if n.DiscussionStart == nil {
		return &MissingPreconditionError{NomineeID: n.ID, Reason: "discussion start not set"}
	}

	voteStart := n.DiscussionStart.Add(d)
	cleanupStart := voteStart.Add(s.calc.VoteDuration)
	ok, err := s.repo.UpdateStateIf(ctx, n.ID, types.StateDiscussion, map[string]interface{}{
		"vote_start":    voteStart,
		"cleanup_start": cleanupStart,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	cleanupEnd := cleanupStart.Add(s.calc.CleanupDuration)
	return s.recalcGuildFrom(ctx, guildID, cleanupEnd)
}

func (s *Scheduler) appendAnnouncement(ctx context.Context, n *types.Nominee, msgID string) {
	if msgID == "" {
		return
	}
	refs := append(types.MessageRefs{}, n.AnnouncementIDs...)
	refs = append(refs, msgID)
	if err := s.repo.Update(ctx, n.ID, map[string]interface{}{"announcement_ids": refs}); err != nil {
		log.Printf("store announcement ref for %q: %v", n.Name, err)
	}
}

func (s *Scheduler) publish(ctx context.Context, n *types.Nominee, from, to types.NomineeState) {
	if s.events != nil {
		s.events.PublishTransition(ctx, n, from, to)
	}
}
