package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// membersPageSize is the largest page Discord returns for guild member listing
const membersPageSize = 1000

// Discord implements Platform over a discordgo session
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an open session
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// Guilds lists the guilds from the session state
func (d *Discord) Guilds(ctx context.Context) ([]string, error) {
	d.session.State.RLock()
	defer d.session.State.RUnlock()

	ids := make([]string, 0, len(d.session.State.Guilds))
	for _, g := range d.session.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// Member fetches a member, preferring the state cache
func (d *Discord) Member(ctx context.Context, guildID, memberID string) (*Member, error) {
	if m, err := d.session.State.Member(guildID, memberID); err == nil {
		return convertMember(guildID, m), nil
	}

	m, err := d.session.GuildMember(guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		if isUnknownMember(err) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return convertMember(guildID, m), nil
}

// Members pages through the full member list
func (d *Discord) Members(ctx context.Context, guildID string) ([]*Member, error) {
	var (
		members []*Member
		after   string
	)
	for {
		page, err := d.session.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		for _, m := range page {
			members = append(members, convertMember(guildID, m))
		}
		if len(page) < membersPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// Roles lists the guild roles
func (d *Discord) Roles(ctx context.Context, guildID string) ([]Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, Role{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// SetMemberRoles replaces the member's roles
func (d *Discord) SetMemberRoles(ctx context.Context, m *Member, roleIDs []string) error {
	_, err := d.session.GuildMemberEdit(m.GuildID, m.ID, &discordgo.GuildMemberParams{
		Roles: &roleIDs,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return convertEditError(err)
	}
	return nil
}

// SetDisplayName changes the member's guild nickname
func (d *Discord) SetDisplayName(ctx context.Context, m *Member, name string) error {
	if err := d.session.GuildMemberNickname(m.GuildID, m.ID, name, discordgo.WithContext(ctx)); err != nil {
		return convertEditError(err)
	}
	return nil
}

func convertMember(guildID string, m *discordgo.Member) *Member {
	out := &Member{
		GuildID: guildID,
		Nick:    m.Nick,
		Roles:   append([]string(nil), m.Roles...),
	}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		if m.User.GlobalName != "" {
			out.Username = m.User.GlobalName
		}
		out.Bot = m.User.Bot
	}
	return out
}

func convertEditError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if isUnknownMember(err) {
		return ErrMemberNotFound
	}
	return err
}

func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
