package storage

import (
	"time"

	"github.com/Xorboo/TeemoBot/internal/rank"
)

// snapshotVersion is written into every persisted document
const snapshotVersion = 1

// Snapshot is the whole persisted state of a deployment
type Snapshot struct {
	Version     int                   `json:"version"`
	Communities map[string]*Community `json:"communities"`
	Bans        []string              `json:"bans,omitempty"` // Deployment-wide ban list
}

// Community is one guild's isolated namespace
type Community struct {
	ID                    string     `json:"id"`
	Region                string     `json:"region"`
	NotificationChannelID string     `json:"notification_channel_id,omitempty"`
	Bans                  []string   `json:"bans,omitempty"`
	Bindings              []*Binding `json:"bindings"`

	index map[string]int // member ID -> position in Bindings
}

// CommunityInfo is a read-only view of a community's settings
type CommunityInfo struct {
	ID                    string
	Region                string
	NotificationChannelID string
	Bindings              int
}

// Binding links one guild member to a game account. Bindings are never deleted,
// only cleared, so a member keeps the same record (and ID) for life.
type Binding struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	AccountID string    `json:"account_id,omitempty"`
	Nickname  string    `json:"nickname,omitempty"`
	Tier      rank.Tier `json:"tier"` // Raw last resolved tier, not the displayed one
	Confirmed bool      `json:"confirmed"`
	Cosmetic  bool      `json:"cosmetic,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cleared reports whether the binding holds no claim
func (b *Binding) Cleared() bool {
	return b.AccountID == "" && b.Nickname == ""
}

// HasAccount reports whether the binding has been resolved at least once
func (b *Binding) HasAccount() bool {
	return b.AccountID != ""
}

func (b *Binding) clear(now time.Time) {
	b.AccountID = ""
	b.Nickname = ""
	b.Tier = rank.NoData
	b.Confirmed = false
	b.UpdatedAt = now
}

// Stats summarizes the store for status reporting
type Stats struct {
	Communities int  `json:"communities"`
	Bindings    int  `json:"bindings"`
	Active      int  `json:"active"`
	Confirmed   int  `json:"confirmed"`
	Dirty       bool `json:"dirty"`
}
