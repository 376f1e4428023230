// Package platform is the chat platform contract the sync engine mutates through
package platform

import (
	"context"
	"errors"
)

var (
	// ErrMemberNotFound means the member left the guild or never joined
	ErrMemberNotFound = errors.New("member not found")

	// ErrForbidden means the bot lacks the permission (or role position) for a change
	ErrForbidden = errors.New("insufficient privilege")
)

// Member is a guild member as seen by the engine
type Member struct {
	GuildID  string
	ID       string
	Username string
	Nick     string   // Guild nickname, empty when unset
	Roles    []string // Role IDs
	Bot      bool
}

// DisplayName returns the guild nickname, falling back to the username
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Username
}

// Role is a guild role
type Role struct {
	ID   string
	Name string
}

// Platform is everything the engine needs from the chat platform
type Platform interface {
	// Guilds lists the guilds the bot is in
	Guilds(ctx context.Context) ([]string, error)

	// Member fetches one member, returning ErrMemberNotFound if absent
	Member(ctx context.Context, guildID, memberID string) (*Member, error)

	// Members lists every member of a guild
	Members(ctx context.Context, guildID string) ([]*Member, error)

	// Roles lists a guild's roles
	Roles(ctx context.Context, guildID string) ([]Role, error)

	// SetMemberRoles replaces the member's role set. Returns ErrForbidden if denied.
	SetMemberRoles(ctx context.Context, m *Member, roleIDs []string) error

	// SetDisplayName changes the member's guild nickname. Returns ErrForbidden if denied.
	SetDisplayName(ctx context.Context, m *Member, name string) error
}
