package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/nombot/src/components/commands"
	botdiscord "github.com/stake-plus/nombot/src/components/discord"
	"github.com/stake-plus/nombot/src/components/lifecycle"
	"github.com/stake-plus/nombot/src/components/poll"
	"github.com/stake-plus/nombot/src/components/schedule"
	"github.com/stake-plus/nombot/src/config"
	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
	"github.com/stake-plus/nombot/src/webserver"
	"gorm.io/gorm"
)

// Bot owns every component of the nomination service: the Discord
// session, the lifecycle scheduler and the operations API. Explicitly
// constructed so tests can build more than one.
type Bot struct {
	session   *discordgo.Session
	db        *gorm.DB
	rdb       *redis.Client
	config    config.Config
	repo      *data.GormNomineeRepo
	scheduler *lifecycle.Scheduler
	commands  *commands.Handler
	polls     *poll.Source
	apiServer *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	bot := &Bot{
		session: dg,
		db:      db,
		rdb:     rdb,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := bot.initializeComponents(); err != nil {
		cancel()
		return nil, err
	}

	bot.registerHandlers()

	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	return bot, nil
}

func (b *Bot) initializeComponents() error {
	b.repo = data.NewNomineeRepo(b.db)

	calc := schedule.Calculator{
		AnchorWeekday:      b.config.AnchorWeekday,
		AnchorHour:         b.config.AnchorHour,
		Location:           b.config.Timezone,
		DiscussionDuration: time.Duration(b.config.DiscussionMinutes) * time.Minute,
		VoteDuration:       time.Duration(b.config.VoteMinutes) * time.Minute,
		CleanupDuration:    time.Duration(b.config.CleanupMinutes) * time.Minute,
	}

	machine := lifecycle.NewStateMachine(b.repo)
	members := botdiscord.NewMemberCounter(b.session, b.config.VoterRoleID)
	b.polls = poll.NewSource(b.db, members)

	b.scheduler = lifecycle.NewScheduler(lifecycle.SchedulerConfig{
		Repo:    b.repo,
		Machine: machine,
		Calc:    calc,
		Channels: botdiscord.NewChannelManager(b.session, botdiscord.ChannelConfig{
			CategoryID:        b.config.CategoryID,
			ArchiveCategoryID: b.config.ArchiveCategoryID,
		}),
		Notifier:       botdiscord.NewNotifier(b.session, b.config.AnnounceChannelID),
		Polls:          b.polls,
		Members:        members,
		Events:         &redisEvents{rdb: b.rdb},
		QuorumFraction: b.config.QuorumFraction,
		PassFraction:   b.config.PassFraction,
	})

	b.commands = commands.NewHandler(commands.Config{
		Repo:      b.repo,
		Machine:   machine,
		Scheduler: b.scheduler,
		Calc:      calc,
		Polls:     b.polls,
		ModRoleID: b.config.ModRoleID,
		GuildID:   b.config.GuildID,
	})

	if b.config.JWTSecret != "" {
		engine := webserver.New(b.config, b.db, b.repo, b.scheduler, b.polls)
		b.apiServer = &http.Server{Addr: b.config.APIListen, Handler: engine}
	} else {
		log.Println("JWT secret not configured; operations API disabled")
	}

	return nil
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.commands.HandleMessage)
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	if b.apiServer != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			log.Printf("Operations API listening on %s", b.apiServer.Addr)
			if err := b.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Operations API: %v", err)
			}
		}()
	}

	return nil
}

func (b *Bot) Stop() {
	b.cancel()
	b.scheduler.Stop()
	if b.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API shutdown: %v", err)
		}
	}
	b.wg.Wait()
	b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)
	b.scheduler.Start()
}

// redisEvents mirrors committed transitions onto the shared event
// stream for external consumers.
type redisEvents struct {
	rdb *redis.Client
}

func (e *redisEvents) PublishTransition(ctx context.Context, n *types.Nominee, from, to types.NomineeState) {
	if e.rdb == nil {
		return
	}
	err := data.PublishEvent(ctx, e.rdb, map[string]interface{}{
		"nominee": n.ID,
		"name":    n.Name,
		"guild":   n.GuildID,
		"from":    from.String(),
		"to":      to.String(),
		"time":    time.Now().Unix(),
	})
	if err != nil {
		log.Printf("publish transition for %q: %v", n.Name, err)
	}
}
