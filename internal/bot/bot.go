package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-co-op/gocron/v2"

	"github.com/Xorboo/TeemoBot/internal/config"
	"github.com/Xorboo/TeemoBot/internal/engine"
	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/poller"
	"github.com/Xorboo/TeemoBot/internal/riot"
	"github.com/Xorboo/TeemoBot/internal/status"
	"github.com/Xorboo/TeemoBot/internal/storage"
)

// commandTimeout bounds one slash command, Riot calls included
const commandTimeout = 30 * time.Second

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	backend   storage.Backend
	store     *storage.Store
	riot      *riot.Client
	engine    *engine.Engine
	poller    *poller.Poller
	router    *Router
	scheduler gocron.Scheduler
	status    *status.Server
	commands  []*discordgo.ApplicationCommand
	ownerID   string
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Member events and listing need the privileged members intent
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	store := storage.New(backend, storage.Options{
		FlushInterval: cfg.FlushInterval,
		DefaultRegion: cfg.DefaultRegion,
	})

	policy, err := cfg.Rank.Policy()
	if err != nil {
		return nil, err
	}

	riotClient := riot.NewClient(cfg.RiotAPIKey)
	resolver := identity.NewResolver(
		riotClient,
		cfg.Rank.RankedQueues,
		cfg.Rank.ResolverProbe(cfg.DefaultRegion),
	)
	discord := platform.NewDiscord(session)

	b := &Bot{
		config:  cfg,
		session: session,
		backend: backend,
		store:   store,
		riot:    riotClient,
		engine:  engine.New(store, resolver, discord, policy, cfg.VerificationSalt),
	}
	b.poller = poller.New(store, b.engine, discord, b, poller.Options{
		CheckPause:      cfg.CheckPause,
		ChangePause:     cfg.ChangePause,
		FailureCooldown: cfg.FailureCooldown,
		PersistEvery:    cfg.PersistEvery,
		Verbose:         cfg.SyncVerbose,
	})

	b.router, err = b.buildRouter()
	if err != nil {
		return nil, err
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// NewBackend opens the configured persistence backend
func NewBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		return storage.NewSQLiteBackend(cfg.DatabasePath)
	case config.BackendRedis:
		return storage.NewRedisBackend(cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey), nil
	default:
		return storage.NewFileBackend(cfg.StatePath)
	}
}

// Start loads state, opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	if err := b.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load bindings: %w", err)
	}

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	if app, err := b.session.Application("@me"); err != nil {
		slog.Warn("Failed to look up application owner", "error", err)
	} else if app.Owner != nil {
		b.ownerID = app.Owner.ID
	}

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	if err := b.startFlushJob(ctx); err != nil {
		return err
	}

	var sync status.SyncControl
	if b.config.SyncEnabled {
		b.poller.Start(ctx)
		sync = b.poller
	} else {
		slog.Info("Background sync disabled")
	}

	if b.config.StatusAddr != "" {
		b.status = status.New(b.store, sync)
		b.status.Start(b.config.StatusAddr)
	}

	return nil
}

// startFlushJob persists dirty state on the debounce interval
func (b *Bot) startFlushJob(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(b.config.FlushInterval),
		gocron.NewTask(func() {
			if err := b.store.Persist(ctx, false); err != nil {
				slog.Error("Failed to persist bindings", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule flush job: %w", err)
	}

	scheduler.Start()
	b.scheduler = scheduler
	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Stop the poller
	if b.poller != nil {
		b.poller.Stop()
	}

	if b.scheduler != nil {
		if err := b.scheduler.Shutdown(); err != nil {
			slog.Error("Failed to stop scheduler", "error", err)
		}
	}

	if b.status != nil {
		if err := b.status.Shutdown(); err != nil {
			slog.Error("Failed to stop status endpoint", "error", err)
		}
	}

	// Final flush regardless of the debounce timer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.store.Persist(ctx, true); err != nil {
		slog.Error("Failed to persist bindings on shutdown", "error", err)
	}

	// Close storage
	if b.backend != nil {
		b.backend.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleMemberJoin)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
	b.session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		slog.Info("Guild available", "guildID", g.ID, "name", g.Name)
	})
}

// handleInteraction routes slash command interactions through the command table
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	if i.GuildID == "" || i.Member == nil {
		respondWithMessage(s, i, "Commands only work inside a server.")
		return
	}

	cmd, err := b.router.Get(data.Name)
	if err != nil {
		slog.Warn("Unknown command", "command", data.Name)
		return
	}

	if cmd.Deferred {
		// Respond immediately to avoid timeout
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cmd.Handler(ctx, s, i)
}

// handleMemberJoin gives new members the no-data role
func (b *Bot) handleMemberJoin(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	slog.Info("Member joined", "guildID", m.GuildID, "memberID", m.User.ID)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	report, err := b.engine.Reset(ctx, m.GuildID, m.User.ID)
	if err != nil {
		slog.Error("Failed to reset joined member", "guildID", m.GuildID, "memberID", m.User.ID, "error", err)
		return
	}
	if report.Roles.Err != nil {
		slog.Warn("Joined member keeps default role", "guildID", m.GuildID, "error", report.Roles.Err)
	}

	b.announce(ctx, m.GuildID, welcomeMessage(m.User.ID))
}

// Notify announces a background sync result in the guild's notification channel
func (b *Bot) Notify(ctx context.Context, outcome *engine.Outcome) {
	msg := describeOutcome(outcome, b.engine.Policy())
	if msg == "" {
		return
	}
	b.announce(ctx, outcome.GuildID, msg)
}

func (b *Bot) announce(ctx context.Context, guildID, msg string) {
	channelID := b.store.Community(guildID).NotificationChannelID
	if channelID == "" {
		slog.Debug("No notification channel set for guild", "guildID", guildID)
		return
	}

	if _, err := b.session.ChannelMessageSend(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		slog.Error("Failed to send notification", "guildID", guildID, "error", err)
	}
}
