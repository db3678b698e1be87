package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/nombot/src/components/lifecycle"
	"github.com/stake-plus/nombot/src/components/schedule"
	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
)

const (
	prefix      = "!"
	minNameLen  = 2
	maxNameLen  = 64
	maxOverride = 14 * 24 // hours
)

// PollCloser closes a nominee's poll so the next sweep finalizes it.
type PollCloser interface {
	Close(ctx context.Context, nomineeID string) error
}

// Config wires the command handler's collaborators.
type Config struct {
	Repo      data.NomineeRepo
	Machine   *lifecycle.StateMachine
	Scheduler *lifecycle.Scheduler
	Calc      schedule.Calculator
	Polls     PollCloser
	ModRoleID string
	GuildID   string
}

// Handler parses prefix commands from guild messages and maps them
// onto state machine and scheduler calls.
type Handler struct {
	repo      data.NomineeRepo
	machine   *lifecycle.StateMachine
	scheduler *lifecycle.Scheduler
	calc      schedule.Calculator
	polls     PollCloser
	modRoleID string
	guildID   string
	sanitizer *bluemonday.Policy
	limiter   *UserRateLimiter
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		repo:      cfg.Repo,
		machine:   cfg.Machine,
		scheduler: cfg.Scheduler,
		calc:      cfg.Calc,
		polls:     cfg.Polls,
		modRoleID: cfg.ModRoleID,
		guildID:   cfg.GuildID,
		sanitizer: bluemonday.StrictPolicy(),
		limiter:   NewUserRateLimiter(time.Minute),
	}
}

func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if h.guildID != "" && m.GuildID != h.guildID {
		return
	}
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(m.Content), " ", 2)
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	ctx := context.Background()

	switch cmd {
	case "nominate":
		h.nominate(ctx, s, m, arg)
	case "denominate":
		h.denominate(ctx, s, m, arg)
	case "queue":
		h.queue(ctx, s, m)
	case "forcestart":
		h.forceStart(ctx, s, m, arg)
	case "discussiontime":
		h.discussionTime(ctx, s, m, arg)
	case "forcecleanup":
		h.forceCleanup(ctx, s, m)
	case "closepoll":
		h.closePoll(ctx, s, m)
	}
}

func (h *Handler) nominate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, arg string) {
	if !h.limiter.CanUse(m.Author.ID) {
		wait := h.limiter.TimeUntilNext(m.Author.ID)
		h.reply(s, m, fmt.Sprintf("Please wait %d seconds before nominating again.", int(wait.Seconds())))
		return
	}

	name := strings.TrimSpace(h.sanitizer.Sanitize(arg))
	if len(name) < minNameLen || len(name) > maxNameLen {
		h.reply(s, m, fmt.Sprintf("Usage: !nominate <name> (%d-%d characters)", minNameLen, maxNameLen))
		return
	}

	if _, err := h.repo.FindByName(ctx, m.GuildID, name); err == nil {
		h.reply(s, m, fmt.Sprintf("**%s** is already nominated.", name))
		return
	} else if !errors.Is(err, data.ErrNotFound) {
		log.Printf("nominate: lookup %q: %v", name, err)
		h.reply(s, m, "Failed to process nomination. Please try again.")
		return
	}

	active, err := h.repo.ListActive(ctx, m.GuildID)
	if err != nil {
		log.Printf("nominate: list active: %v", err)
		h.reply(s, m, "Failed to process nomination. Please try again.")
		return
	}
	position := len(active) + 1

	now := time.Now()
	sch := h.calc.ScheduleFor(now, position)
	nominee := &types.Nominee{
		ID:              uuid.NewString(),
		GuildID:         m.GuildID,
		Name:            name,
		Nominator:       m.Author.ID,
		State:           types.StateActive,
		CreatedAt:       now,
		DiscussionStart: &sch.DiscussionStart,
		VoteStart:       &sch.VoteStart,
		CleanupStart:    &sch.CleanupStart,
	}
	if err := h.repo.Create(ctx, nominee); err != nil {
		log.Printf("nominate: create %q: %v", name, err)
		h.reply(s, m, "Failed to process nomination. Please try again.")
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Nomination Queued",
		Description: fmt.Sprintf("**%s** has been nominated.", name),
		Color:       0x0099ff,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Queue Position", Value: strconv.Itoa(position), Inline: true},
			{Name: "Discussion Starts", Value: fmt.Sprintf("<t:%d:F>", sch.DiscussionStart.Unix()), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Nominated by %s", m.Author.Username)},
		Timestamp: now.Format(time.RFC3339),
	}
	if _, err := s.ChannelMessageSendEmbed(m.ChannelID, embed); err != nil {
		log.Printf("nominate: send embed: %v", err)
	}
	log.Printf("Nomination %q queued at position %d by %s (guild %s)", name, position, m.Author.Username, m.GuildID)
}

func (h *Handler) denominate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, arg string) {
	if !h.isMod(s, m) {
		h.reply(s, m, "You don't have permission to use this command.")
		return
	}

	name := strings.TrimSpace(h.sanitizer.Sanitize(arg))
	if name == "" {
		h.reply(s, m, "Usage: !denominate <name>")
		return
	}

	nominee, err := h.repo.FindByName(ctx, m.GuildID, name)
	if errors.Is(err, data.ErrNotFound) {
		h.reply(s, m, fmt.Sprintf("No open nomination found for **%s**.", name))
		return
	}
	if err != nil {
		log.Printf("denominate: lookup %q: %v", name, err)
		h.reply(s, m, "Failed to remove nomination. Please try again.")
		return
	}

	if nominee.State == types.StateActive {
		// never started; drop the row entirely
		if err := h.repo.Delete(ctx, nominee.ID); err != nil {
			log.Printf("denominate: delete %q: %v", name, err)
			h.reply(s, m, "Failed to remove nomination. Please try again.")
			return
		}
	} else {
		// in flight; force to Past so history is kept
		if _, err := h.machine.Transition(ctx, nominee.ID, types.StatePast, nil); err != nil {
			log.Printf("denominate: archive %q: %v", name, err)
			h.reply(s, m, "Failed to remove nomination. Please try again.")
			return
		}
	}

	if err := h.scheduler.RecalcGuild(ctx, m.GuildID); err != nil {
		log.Printf("denominate: recalc guild %s: %v", m.GuildID, err)
	}
	h.reply(s, m, fmt.Sprintf("Nomination of **%s** removed.", name))
	log.Printf("Nomination %q removed by %s (guild %s)", name, m.Author.Username, m.GuildID)
}

func (h *Handler) queue(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	active, err := h.repo.ListActive(ctx, m.GuildID)
	if err != nil {
		log.Printf("queue: list active: %v", err)
		h.reply(s, m, "Failed to load the queue. Please try again.")
		return
	}

	var b strings.Builder
	if cur, err := h.repo.FindInProgress(ctx, m.GuildID); err == nil {
		fmt.Fprintf(&b, "In progress: **%s** (%s)\n", cur.Name, cur.State)
	}
	if len(active) == 0 {
		b.WriteString("The queue is empty.")
	}
	for i, n := range active {
		when := "unscheduled"
		if n.DiscussionStart != nil {
			when = fmt.Sprintf("<t:%d:F>", n.DiscussionStart.Unix())
		}
		fmt.Fprintf(&b, "%d. **%s** — discussion %s\n", i+1, n.Name, when)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Nomination Queue",
		Description: b.String(),
		Color:       0x0099ff,
	}
	if _, err := s.ChannelMessageSendEmbed(m.ChannelID, embed); err != nil {
		log.Printf("queue: send embed: %v", err)
	}
}

func (h *Handler) forceStart(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, arg string) {
	if !h.isMod(s, m) {
		h.reply(s, m, "You don't have permission to use this command.")
		return
	}

	name := strings.TrimSpace(h.sanitizer.Sanitize(arg))
	if err := h.scheduler.ForceStart(ctx, m.GuildID, name); err != nil {
		h.reply(s, m, describeError(err))
		return
	}
	h.reply(s, m, "Discussion started.")
}

func (h *Handler) discussionTime(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, arg string) {
	if !h.isMod(s, m) {
		h.reply(s, m, "You don't have permission to use this command.")
		return
	}

	hours, err := strconv.Atoi(arg)
	if err != nil || hours <= 0 || hours > maxOverride {
		h.reply(s, m, fmt.Sprintf("Usage: !discussiontime <hours> (1-%d)", maxOverride))
		return
	}

	if err := h.scheduler.AdjustDiscussionDuration(ctx, m.GuildID, time.Duration(hours)*time.Hour); err != nil {
		h.reply(s, m, describeError(err))
		return
	}
	h.reply(s, m, fmt.Sprintf("Discussion duration set to %d hours; queue rescheduled.", hours))
}

func (h *Handler) forceCleanup(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if !h.isMod(s, m) {
		h.reply(s, m, "You don't have permission to use this command.")
		return
	}

	if err := h.scheduler.ForceCleanup(ctx, m.GuildID); err != nil {
		h.reply(s, m, describeError(err))
		return
	}
	h.reply(s, m, "Vote closed; cleanup started.")
}

func (h *Handler) closePoll(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if !h.isMod(s, m) {
		h.reply(s, m, "You don't have permission to use this command.")
		return
	}

	nominee, err := h.repo.FindInState(ctx, m.GuildID, types.StateVote)
	if errors.Is(err, data.ErrNotFound) {
		h.reply(s, m, "No vote is currently running.")
		return
	}
	if err != nil {
		log.Printf("closepoll: find vote: %v", err)
		h.reply(s, m, "Failed to close the poll. Please try again.")
		return
	}

	if err := h.closeBallot(ctx, nominee.ID); err != nil {
		log.Printf("closepoll: close %q: %v", nominee.Name, err)
		h.reply(s, m, "Failed to close the poll. Please try again.")
		return
	}
	h.reply(s, m, fmt.Sprintf("Poll for **%s** closed; the tally finalizes on the next sweep.", nominee.Name))
}

func (h *Handler) closeBallot(ctx context.Context, nomineeID string) error {
	if h.polls == nil {
		return fmt.Errorf("no poll backend configured")
	}
	return h.polls.Close(ctx, nomineeID)
}

func (h *Handler) isMod(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if h.modRoleID == "" {
		return true
	}
	member := m.Member
	if member == nil {
		var err error
		member, err = s.GuildMember(m.GuildID, m.Author.ID)
		if err != nil {
			log.Printf("Failed to get guild member: %v", err)
			return false
		}
	}
	for _, roleID := range member.Roles {
		if roleID == h.modRoleID {
			return true
		}
	}
	return false
}

func (h *Handler) reply(s *discordgo.Session, m *discordgo.MessageCreate, msg string) {
	if _, err := s.ChannelMessageSend(m.ChannelID, msg); err != nil {
		log.Printf("reply: %v", err)
	}
}

// describeError turns typed lifecycle failures into one user-facing
// line; anything unexpected is logged and masked.
func describeError(err error) string {
	var conflict *lifecycle.InProgressConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("**%s** is already in %s; only one nomination may run at a time.",
			conflict.Blocking.Name, conflict.Blocking.State)
	}
	var missing *lifecycle.MissingPreconditionError
	if errors.As(err, &missing) {
		return fmt.Sprintf("Cannot do that yet: %s.", missing.Reason)
	}
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("Cannot move a nomination from %s to %s.", invalid.From, invalid.To)
	}
	if errors.Is(err, data.ErrNotFound) {
		return "No matching nomination found."
	}
	if errors.Is(err, lifecycle.ErrStateChanged) {
		return "The nomination changed state just now; please retry."
	}
	log.Printf("command failed: %v", err)
	return "Command failed. Please try again."
}
