package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Xorboo/TeemoBot/internal/config"
	"github.com/Xorboo/TeemoBot/internal/engine"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/riot"
)

// adminPermissions hides admin commands from members who cannot manage roles
var adminPermissions int64 = discordgo.PermissionManageRoles

// buildRegionChoices creates the region selection choices for slash commands
func buildRegionChoices() []*discordgo.ApplicationCommandOptionChoice {
	regions := riot.Regions()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(regions))
	for i, r := range regions {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  strings.ToUpper(r),
			Value: r,
		}
	}
	return choices
}

func memberOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
		Required:    true,
	}
}

// buildRouter builds the command table
func (b *Bot) buildRouter() (*Router, error) {
	commands := []*Command{
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "nick",
				Description: "Link your summoner name and get your rank role",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "nickname",
						Description: "Your summoner name",
						Required:    true,
					},
				},
			},
			Handler:  b.handleNick,
			Deferred: true,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "confirm",
				Description: "Check your published verification code and refresh your rank",
			},
			Handler:  b.handleConfirm,
			Deferred: true,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "code",
				Description: "Show the verification code for your linked account",
			},
			Handler: b.handleCode,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "base",
				Description: "Set the part of your name before the brackets",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Your base name",
						Required:    true,
					},
				},
			},
			Handler: b.handleBase,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "region",
				Description: "Show the region ranks are looked up on",
			},
			Handler: b.handleRegion,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "setregion",
				Description:              "Set the region ranks are looked up on",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "region",
						Description: "League region",
						Required:    true,
						Choices:     buildRegionChoices(),
					},
				},
			},
			Handler: b.handleSetRegion,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "force",
				Description:              "Link a summoner name for another member",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					memberOption("The member to link"),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "nickname",
						Description: "Their summoner name",
						Required:    true,
					},
				},
			},
			Handler:  b.handleForce,
			Deferred: true,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "setchannel",
				Description:              "Set the channel for rank change announcements",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "The channel to send announcements to",
						Required:    true,
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
						},
					},
				},
			},
			Handler: b.handleSetChannel,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "cosmetic",
				Description:              "Toggle the cosmetic name marker of a member",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					memberOption("The member"),
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "Show the marker",
						Required:    true,
					},
				},
			},
			Handler: b.handleCosmetic,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "ban",
				Description:              "Stop the bot from linking accounts for a member",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					memberOption("The member to ban"),
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "global",
						Description: "Ban on every server (bot owner only)",
					},
				},
			},
			Handler: b.handleBan,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "unban",
				Description:              "Lift a ban",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					memberOption("The member to unban"),
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "global",
						Description: "Lift the global ban (bot owner only)",
					},
				},
			},
			Handler: b.handleUnban,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "sync",
				Description:              "Show or switch background rank sync",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "live",
						Description: "Enable or pause the sync (bot owner only)",
					},
				},
			},
			Handler: b.handleSync,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "riotkey",
				Description:              "Replace the Riot API key (bot owner only)",
				DefaultMemberPermissions: &adminPermissions,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "key",
						Description: "New key from developer.riotgames.com",
						Required:    true,
					},
				},
			},
			Handler: b.handleRiotKey,
		},
	}

	router := NewRouter()
	for _, cmd := range commands {
		if err := router.Register(cmd); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.router.Definitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	appID := b.config.DiscordApplicationID
	if appID == "" {
		appID = b.session.State.User.ID
	}

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			appID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleNick handles the /nick command
func (b *Bot) handleNick(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	nickname := strings.TrimSpace(options(i)["nickname"].StringValue())
	b.runUpdate(ctx, s, i, i.Member.User.ID, nickname)
}

// handleForce handles the /force command
func (b *Bot) handleForce(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := options(i)
	target := opts["member"].UserValue(nil).ID
	nickname := strings.TrimSpace(opts["nickname"].StringValue())

	slog.Info("Force setting nickname", "guildID", i.GuildID, "memberID", target, "nickname", nickname, "admin", i.Member.User.ID)
	b.runUpdate(ctx, s, i, target, nickname)
}

// handleConfirm handles the /confirm command
func (b *Bot) handleConfirm(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.runUpdate(ctx, s, i, i.Member.User.ID, "")
}

// runUpdate resolves a claim and reports the result in the deferred response
func (b *Bot) runUpdate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, memberID, nickname string) {
	outcome, err := b.engine.Update(ctx, engine.Request{
		GuildID:  i.GuildID,
		MemberID: memberID,
		Nickname: nickname,
	})
	if err != nil {
		slog.Info("Update rejected", "guildID", i.GuildID, "memberID", memberID, "error", err)
		b.editResponse(s, i, describeError(memberID, err))
		return
	}

	msg := describeOutcome(outcome, b.engine.Policy())
	if msg == "" {
		msg = fmt.Sprintf("<@%s> is not on this server.", memberID)
	}
	b.editResponse(s, i, msg)

	if outcome.Changed() && len(outcome.Displaced) > 0 {
		b.announce(ctx, i.GuildID, displacedMessage(outcome))
	}
}

// handleCode handles the /code command
func (b *Bot) handleCode(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	code, err := b.engine.VerificationCode(i.GuildID, i.Member.User.ID)
	if err != nil {
		respondEphemeral(s, i, describeError(i.Member.User.ID, err))
		return
	}
	respondEphemeral(s, i, codeHint(code))
}

// handleBase handles the /base command
func (b *Bot) handleBase(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	base := strings.TrimSpace(options(i)["name"].StringValue())
	if base == "" {
		respondWithMessage(s, i, "Give me a name after `/base`.")
		return
	}

	report, err := b.engine.Reapply(ctx, i.GuildID, i.Member.User.ID, base)
	if err != nil {
		slog.Error("Failed to set base name", "guildID", i.GuildID, "error", err)
		respondWithMessage(s, i, describeError(i.Member.User.ID, err))
		return
	}
	if report.Name.Err != nil {
		respondWithMessage(s, i, describeNameError(i.Member.User.ID, report.Name.Err))
		return
	}
	respondWithMessage(s, i, fmt.Sprintf("Okay <@%s>, your name is updated.", i.Member.User.ID))
}

// handleRegion handles the /region command
func (b *Bot) handleRegion(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	region := b.store.Community(i.GuildID).Region
	respondWithMessage(s, i, fmt.Sprintf("Current region: `%s`", strings.ToUpper(region)))
}

// handleSetRegion handles the /setregion command
func (b *Bot) handleSetRegion(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	region := strings.ToLower(options(i)["region"].StringValue())
	if !riot.HasRegion(region) {
		respondWithMessage(s, i, fmt.Sprintf("`%s` is not a region, use one of: %s", region, strings.Join(riot.Regions(), ", ")))
		return
	}

	reset := b.store.SetRegion(i.GuildID, region)
	slog.Info("Region changed", "guildID", i.GuildID, "region", region, "reset", reset)

	msg := fmt.Sprintf("Region set to `%s`.", strings.ToUpper(region))
	if reset > 0 {
		msg += fmt.Sprintf(" %d linked accounts will be looked up again by name and need a new `/confirm` for high ranks.", reset)
	}
	respondWithMessage(s, i, msg)
}

// handleSetChannel handles the /setchannel command
func (b *Bot) handleSetChannel(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	channel := options(i)["channel"].ChannelValue(nil)

	b.store.SetNotificationChannel(i.GuildID, channel.ID)
	respondWithMessage(s, i, fmt.Sprintf("Rank changes will be announced in <#%s>", channel.ID))
}

// handleCosmetic handles the /cosmetic command
func (b *Bot) handleCosmetic(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := options(i)
	target := opts["member"].UserValue(nil).ID
	enabled := opts["enabled"].BoolValue()

	b.store.SetCosmetic(i.GuildID, target, enabled)
	report, err := b.engine.Reapply(ctx, i.GuildID, target, "")
	if err != nil {
		respondWithMessage(s, i, describeError(target, err))
		return
	}
	if report.Name.Err != nil {
		respondWithMessage(s, i, describeNameError(target, report.Name.Err))
		return
	}
	respondWithMessage(s, i, fmt.Sprintf("Cosmetic marker for <@%s>: %t", target, enabled))
}

// handleBan handles the /ban command
func (b *Bot) handleBan(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.setBanned(ctx, s, i, true)
}

// handleUnban handles the /unban command
func (b *Bot) handleUnban(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.setBanned(ctx, s, i, false)
}

func (b *Bot) setBanned(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, banned bool) {
	opts := options(i)
	target := opts["member"].UserValue(nil).ID

	scope := i.GuildID
	if opt, ok := opts["global"]; ok && opt.BoolValue() {
		if !b.isOwner(i) {
			respondWithMessage(s, i, "Only the bot owner can change global bans.")
			return
		}
		scope = ""
	}

	b.store.SetBanned(scope, target, banned)
	slog.Info("Ban list changed", "guildID", i.GuildID, "global", scope == "", "memberID", target, "banned", banned)

	if banned {
		b.store.Clear(i.GuildID, target)
		if _, err := b.engine.Reset(ctx, i.GuildID, target); err != nil && !errors.Is(err, platform.ErrMemberNotFound) {
			slog.Warn("Failed to reset banned member", "guildID", i.GuildID, "memberID", target, "error", err)
		}
		respondWithMessage(s, i, fmt.Sprintf("<@%s> is banned.", target))
		return
	}
	respondWithMessage(s, i, fmt.Sprintf("<@%s> is no longer banned.", target))
}

// handleSync handles the /sync command
func (b *Bot) handleSync(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if opt, ok := options(i)["live"]; ok {
		if !b.isOwner(i) {
			respondWithMessage(s, i, "Only the bot owner can switch the sync.")
			return
		}
		b.poller.SetLive(opt.BoolValue())
	}

	st := b.poller.Stats()
	respondWithMessage(s, i, fmt.Sprintf("Sync live: %t, running: %t, checks: %d, changes: %d, API failures: %d",
		st.Live, st.Running, st.Checks, st.Changes, st.Failures))
}

// handleRiotKey handles the /riotkey command
func (b *Bot) handleRiotKey(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOwner(i) {
		respondEphemeral(s, i, "Only the bot owner can change the Riot API key.")
		return
	}

	key := strings.TrimSpace(options(i)["key"].StringValue())
	if key == "" {
		respondEphemeral(s, i, "The key cannot be empty.")
		return
	}

	b.riot.SetAPIKey(key)
	slog.Info("Riot API key updated", "by", i.Member.User.ID)

	if err := config.SaveRiotKey(b.config.RiotKeyPath, key); err != nil {
		slog.Error("Failed to save Riot API key", "error", err)
		respondEphemeral(s, i, "Key updated, but saving it failed: it will be lost on restart.")
		return
	}
	respondEphemeral(s, i, "Riot API key updated.")
}

func (b *Bot) isOwner(i *discordgo.InteractionCreate) bool {
	return b.ownerID != "" && i.Member != nil && i.Member.User.ID == b.ownerID
}

// Helper functions

func options(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		out[opt.Name] = opt
	}
	return out
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
