package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/cases"

	"github.com/Xorboo/TeemoBot/internal/rank"
)

// Options configures a Store
type Options struct {
	// FlushInterval is the minimum time between two non-forced flushes
	FlushInterval time.Duration

	// DefaultRegion is assigned to communities created on first interaction
	DefaultRegion string

	Clock clockwork.Clock
}

// Store is the in-memory binding arena with debounced persistence.
// All writes mark the store dirty; Persist writes the whole snapshot.
type Store struct {
	backend Backend
	clock   clockwork.Clock
	opts    Options

	mu          sync.Mutex
	communities map[string]*Community
	bans        map[string]bool
	dirty       bool
	generation  uint64
	lastFlush   time.Time

	flushMu sync.Mutex // serializes Persist so an older snapshot never overwrites a newer one
}

// New creates an empty store on top of a backend
func New(backend Backend, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Store{
		backend:     backend,
		clock:       opts.Clock,
		opts:        opts,
		communities: make(map[string]*Community),
		bans:        make(map[string]bool),
		lastFlush:   opts.Clock.Now(),
	}
}

// Load replaces the in-memory state with the backend's snapshot
func (s *Store) Load(ctx context.Context) error {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}

	snapshot := Snapshot{Communities: make(map[string]*Community)}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.communities = make(map[string]*Community, len(snapshot.Communities))
	bindings := 0
	for id, c := range snapshot.Communities {
		if c == nil {
			continue
		}
		c.ID = id
		c.reindex()
		s.communities[id] = c
		bindings += len(c.Bindings)
	}

	s.bans = make(map[string]bool, len(snapshot.Bans))
	for _, id := range snapshot.Bans {
		s.bans[id] = true
	}

	s.dirty = false
	s.lastFlush = s.clock.Now()

	slog.Info("Loaded bindings", "communities", len(s.communities), "bindings", bindings)
	return nil
}

// Persist writes the snapshot if anything changed. Unless force is set, it waits
// for FlushInterval to pass since the previous flush.
func (s *Store) Persist(ctx context.Context, force bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if !force && s.clock.Since(s.lastFlush) < s.opts.FlushInterval {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	generation := s.generation
	started := s.clock.Now()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.backend.Save(ctx, data); err != nil {
		return err
	}

	// The interval counts from the start of the flush so a timer ticking every
	// FlushInterval never finds it a moment short
	s.mu.Lock()
	s.lastFlush = started
	if s.generation == generation {
		s.dirty = false
	}
	s.mu.Unlock()

	slog.Debug("Persisted bindings", "bytes", len(data), "forced", force)
	return nil
}

// Export returns the current snapshot document
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.snapshotLocked(), "", "  ")
}

// Dirty reports whether there are unflushed changes
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Mutate runs fn as one atomic section over a community, creating the community
// if needed. Changes fn makes through the Tx are kept even when it returns an error.
func (s *Store) Mutate(guildID string, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{now: s.clock.Now(), community: s.communityLocked(guildID)}
	err := fn(tx)
	if tx.changed {
		s.markDirtyLocked()
	}
	return err
}

// Binding returns a copy of a member's binding
func (s *Store) Binding(guildID, memberID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[guildID]
	if !ok {
		return Binding{}, false
	}
	b := c.get(memberID)
	if b == nil {
		return Binding{}, false
	}
	return *b, true
}

// GetOrCreate returns a member's binding, creating an empty one if needed
func (s *Store) GetOrCreate(guildID, memberID string) Binding {
	var out Binding
	s.Mutate(guildID, func(tx *Tx) error {
		out = *tx.GetOrCreate(memberID)
		return nil
	})
	return out
}

// Clear resets a member's claim. It reports whether anything was cleared.
func (s *Store) Clear(guildID, memberID string) bool {
	var cleared bool
	s.Mutate(guildID, func(tx *Tx) error {
		cleared = tx.Clear(memberID)
		return nil
	})
	return cleared
}

// FindConfirmedByAccount returns the confirmed binding owning an account, if any
func (s *Store) FindConfirmedByAccount(guildID, accountID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[guildID]
	if !ok {
		return Binding{}, false
	}
	b := c.findConfirmed(accountID)
	if b == nil {
		return Binding{}, false
	}
	return *b, true
}

// Bindings returns copies of a community's bindings in stable index order
func (s *Store) Bindings(guildID string) []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[guildID]
	if !ok {
		return nil
	}
	out := make([]Binding, len(c.Bindings))
	for i, b := range c.Bindings {
		out[i] = *b
	}
	return out
}

// BindingAt returns the binding at an arena position, for cursor walks
func (s *Store) BindingAt(guildID string, idx int) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[guildID]
	if !ok || idx < 0 || idx >= len(c.Bindings) {
		return Binding{}, false
	}
	return *c.Bindings[idx], true
}

// GuildIDs returns all known community IDs, sorted
func (s *Store) GuildIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.communities))
	for id := range s.communities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Community returns a community's settings; unknown communities get defaults
func (s *Store) Community(guildID string) CommunityInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[guildID]
	if !ok {
		return CommunityInfo{ID: guildID, Region: s.opts.DefaultRegion}
	}
	return CommunityInfo{
		ID:                    c.ID,
		Region:                c.Region,
		NotificationChannelID: c.NotificationChannelID,
		Bindings:              len(c.Bindings),
	}
}

// SetRegion changes the region used to resolve a community's bindings. Account IDs
// are only valid on one region, so every binding drops its account and confirmation
// and is resolved again by nickname. It returns the number of bindings reset.
func (s *Store) SetRegion(guildID, region string) int {
	var reset int
	s.Mutate(guildID, func(tx *Tx) error {
		if tx.community.Region == region {
			return nil
		}
		tx.community.Region = region
		tx.changed = true

		for _, b := range tx.community.Bindings {
			if !b.HasAccount() && !b.Confirmed {
				continue
			}
			b.AccountID = ""
			b.Confirmed = false
			tx.Touch(b)
			reset++
		}
		return nil
	})
	if reset > 0 {
		slog.Info("Region changed, bindings will resolve by nickname", "guildID", guildID, "region", region, "reset", reset)
	}
	return reset
}

// SetNotificationChannel sets where background sync announcements go
func (s *Store) SetNotificationChannel(guildID, channelID string) {
	s.Mutate(guildID, func(tx *Tx) error {
		if tx.community.NotificationChannelID != channelID {
			tx.community.NotificationChannelID = channelID
			tx.changed = true
		}
		return nil
	})
}

// SetCosmetic toggles the cosmetic marker on a member's binding
func (s *Store) SetCosmetic(guildID, memberID string, cosmetic bool) Binding {
	var out Binding
	s.Mutate(guildID, func(tx *Tx) error {
		b := tx.GetOrCreate(memberID)
		if b.Cosmetic != cosmetic {
			b.Cosmetic = cosmetic
			tx.Touch(b)
		}
		out = *b
		return nil
	})
	return out
}

// SetBanned adds or removes a member from a ban list. An empty guildID targets
// the deployment-wide list.
func (s *Store) SetBanned(guildID, memberID string, banned bool) {
	if guildID == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.bans[memberID] != banned {
			if banned {
				s.bans[memberID] = true
			} else {
				delete(s.bans, memberID)
			}
			s.markDirtyLocked()
		}
		return
	}

	s.Mutate(guildID, func(tx *Tx) error {
		c := tx.community
		idx := indexOf(c.Bans, memberID)
		switch {
		case banned && idx < 0:
			c.Bans = append(c.Bans, memberID)
			tx.changed = true
		case !banned && idx >= 0:
			c.Bans = append(c.Bans[:idx], c.Bans[idx+1:]...)
			tx.changed = true
		}
		return nil
	})
}

// IsBanned reports whether a member is banned in the community or globally
func (s *Store) IsBanned(guildID, memberID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bans[memberID] {
		return true
	}
	c, ok := s.communities[guildID]
	return ok && indexOf(c.Bans, memberID) >= 0
}

// Stats returns store counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Communities: len(s.communities), Dirty: s.dirty}
	for _, c := range s.communities {
		st.Bindings += len(c.Bindings)
		for _, b := range c.Bindings {
			if !b.Cleared() {
				st.Active++
			}
			if b.Confirmed {
				st.Confirmed++
			}
		}
	}
	return st
}

func (s *Store) communityLocked(guildID string) *Community {
	c, ok := s.communities[guildID]
	if !ok {
		c = &Community{
			ID:     guildID,
			Region: s.opts.DefaultRegion,
			index:  make(map[string]int),
		}
		s.communities[guildID] = c
		s.markDirtyLocked()
		slog.Info("Created community", "guildID", guildID, "region", c.Region)
	}
	return c
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.generation++
}

func (s *Store) snapshotLocked() *Snapshot {
	snapshot := &Snapshot{
		Version:     snapshotVersion,
		Communities: s.communities,
	}
	for id := range s.bans {
		snapshot.Bans = append(snapshot.Bans, id)
	}
	sort.Strings(snapshot.Bans)
	return snapshot
}

// Tx is the view of one community inside Store.Mutate. Pointers it returns are
// only valid until the section ends.
type Tx struct {
	now       time.Time
	community *Community
	changed   bool
}

// GuildID returns the community the section operates on
func (tx *Tx) GuildID() string {
	return tx.community.ID
}

// Get returns the member's binding or nil
func (tx *Tx) Get(memberID string) *Binding {
	return tx.community.get(memberID)
}

// GetOrCreate returns the member's binding, appending an empty one if needed
func (tx *Tx) GetOrCreate(memberID string) *Binding {
	if b := tx.community.get(memberID); b != nil {
		return b
	}
	b := &Binding{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		Tier:      rank.NoData,
		UpdatedAt: tx.now,
	}
	tx.community.index[memberID] = len(tx.community.Bindings)
	tx.community.Bindings = append(tx.community.Bindings, b)
	tx.changed = true
	return b
}

// FindConfirmedByAccount returns the confirmed owner of an account or nil
func (tx *Tx) FindConfirmedByAccount(accountID string) *Binding {
	return tx.community.findConfirmed(accountID)
}

// Bindings returns the community's bindings in index order
func (tx *Tx) Bindings() []*Binding {
	return tx.community.Bindings
}

// Clear resets a member's claim, reporting whether it held one
func (tx *Tx) Clear(memberID string) bool {
	b := tx.community.get(memberID)
	if b == nil || (b.Cleared() && !b.Confirmed && b.Tier == rank.NoData) {
		return false
	}
	b.clear(tx.now)
	tx.changed = true
	return true
}

// Touch records that b was modified in this section
func (tx *Tx) Touch(b *Binding) {
	b.UpdatedAt = tx.now
	tx.changed = true
}

func (c *Community) reindex() {
	c.index = make(map[string]int, len(c.Bindings))
	kept := c.Bindings[:0]
	for _, b := range c.Bindings {
		if b == nil {
			continue
		}
		if _, dup := c.index[b.MemberID]; dup {
			slog.Warn("Dropping duplicate binding", "guildID", c.ID, "memberID", b.MemberID)
			continue
		}
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		c.index[b.MemberID] = len(kept)
		kept = append(kept, b)
	}
	c.Bindings = kept
}

func (c *Community) get(memberID string) *Binding {
	idx, ok := c.index[memberID]
	if !ok {
		return nil
	}
	return c.Bindings[idx]
}

func (c *Community) findConfirmed(accountID string) *Binding {
	if accountID == "" {
		return nil
	}
	for _, b := range c.Bindings {
		if b.Confirmed && b.AccountID == accountID {
			return b
		}
	}
	return nil
}

// SameNickname compares nicknames case-insensitively (full Unicode case folding)
func SameNickname(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
