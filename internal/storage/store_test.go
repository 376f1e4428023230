package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xorboo/TeemoBot/internal/rank"
)

// memBackend records every save in memory
type memBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error

	onSave func() // Runs inside Save, e.g. to let time pass
}

func (m *memBackend) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memBackend) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.onSave != nil {
		m.onSave()
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *memBackend) Close() error { return nil }

func newTestStore(t *testing.T) (*Store, *memBackend, *clockwork.FakeClock) {
	t.Helper()
	backend := &memBackend{}
	clock := clockwork.NewFakeClock()
	s := New(backend, Options{FlushInterval: 30 * time.Second, DefaultRegion: "euw", Clock: clock})
	return s, backend, clock
}

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	s, _, _ := newTestStore(t)

	first := s.GetOrCreate("g1", "m1")
	second := s.GetOrCreate("g1", "m1")

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, rank.NoData, first.Tier)
	assert.True(t, first.Cleared())
	assert.Equal(t, "euw", s.Community("g1").Region)
}

func TestBinding_AbsentForUnknownMember(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, ok := s.Binding("g1", "nobody")
	assert.False(t, ok)
	assert.Empty(t, s.GuildIDs(), "reads must not create communities")
}

func TestClear_KeepsRecord(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.Mutate("g1", func(tx *Tx) error {
		b := tx.GetOrCreate("m1")
		b.AccountID = "acc"
		b.Nickname = "Foo"
		b.Tier = rank.Gold
		b.Confirmed = true
		tx.Touch(b)
		return nil
	}))
	before, _ := s.Binding("g1", "m1")

	assert.True(t, s.Clear("g1", "m1"))
	assert.False(t, s.Clear("g1", "m1"), "second clear is a no-op")

	after, ok := s.Binding("g1", "m1")
	require.True(t, ok)
	assert.Equal(t, before.ID, after.ID)
	assert.Empty(t, after.AccountID)
	assert.Empty(t, after.Nickname)
	assert.False(t, after.Confirmed)
	assert.Equal(t, rank.NoData, after.Tier)
}

func TestFindConfirmedByAccount(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.Mutate("g1", func(tx *Tx) error {
		a := tx.GetOrCreate("m1")
		a.AccountID = "acc"
		b := tx.GetOrCreate("m2")
		b.AccountID = "acc"
		b.Confirmed = true
		tx.Touch(b)
		return nil
	}))

	owner, ok := s.FindConfirmedByAccount("g1", "acc")
	require.True(t, ok)
	assert.Equal(t, "m2", owner.MemberID)

	_, ok = s.FindConfirmedByAccount("g1", "other")
	assert.False(t, ok)
	_, ok = s.FindConfirmedByAccount("g2", "acc")
	assert.False(t, ok)
}

func TestBindings_StableOrder(t *testing.T) {
	s, _, _ := newTestStore(t)
	for _, id := range []string{"m3", "m1", "m2"} {
		s.GetOrCreate("g1", id)
	}
	s.Clear("g1", "m1")

	var ids []string
	for _, b := range s.Bindings("g1") {
		ids = append(ids, b.MemberID)
	}
	assert.Equal(t, []string{"m3", "m1", "m2"}, ids)

	b, ok := s.BindingAt("g1", 2)
	require.True(t, ok)
	assert.Equal(t, "m2", b.MemberID)
	_, ok = s.BindingAt("g1", 3)
	assert.False(t, ok)
}

func TestMutate_KeepsChangesOnError(t *testing.T) {
	s, _, _ := newTestStore(t)
	errStop := errors.New("stop")

	err := s.Mutate("g1", func(tx *Tx) error {
		tx.GetOrCreate("m1")
		return errStop
	})

	assert.ErrorIs(t, err, errStop)
	_, ok := s.Binding("g1", "m1")
	assert.True(t, ok)
}

func TestPersist_Debounced(t *testing.T) {
	ctx := context.Background()
	s, backend, clock := newTestStore(t)

	// Clean store never writes
	require.NoError(t, s.Persist(ctx, true))
	assert.Equal(t, 0, backend.saves)

	s.GetOrCreate("g1", "m1")
	assert.True(t, s.Dirty())

	// Inside the interval nothing is written
	require.NoError(t, s.Persist(ctx, false))
	assert.Equal(t, 0, backend.saves)

	clock.Advance(31 * time.Second)
	require.NoError(t, s.Persist(ctx, false))
	assert.Equal(t, 1, backend.saves)
	assert.False(t, s.Dirty())

	// Force ignores the timer
	s.GetOrCreate("g1", "m2")
	require.NoError(t, s.Persist(ctx, true))
	assert.Equal(t, 2, backend.saves)
}

func TestPersist_SlowSaveKeepsCadence(t *testing.T) {
	ctx := context.Background()
	s, backend, clock := newTestStore(t)
	backend.onSave = func() { clock.Advance(2 * time.Second) }

	s.GetOrCreate("g1", "m1")
	clock.Advance(30 * time.Second)
	require.NoError(t, s.Persist(ctx, false))
	assert.Equal(t, 1, backend.saves)

	// One interval after the previous tick, not after the save finished
	s.GetOrCreate("g1", "m2")
	clock.Advance(28 * time.Second)
	require.NoError(t, s.Persist(ctx, false))
	assert.Equal(t, 2, backend.saves)
}

func TestPersist_FailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	backend.err = errors.New("disk full")

	s.GetOrCreate("g1", "m1")
	assert.Error(t, s.Persist(ctx, true))
	assert.True(t, s.Dirty())
}

func TestLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	s.SetRegion("g1", "na")
	require.NoError(t, s.Mutate("g1", func(tx *Tx) error {
		b := tx.GetOrCreate("m1")
		b.AccountID = "acc"
		b.Nickname = "Foo"
		b.Tier = rank.Diamond
		b.Cosmetic = true
		tx.Touch(b)
		return nil
	}))
	s.SetNotificationChannel("g1", "chan")
	s.SetBanned("", "troll", true)
	s.SetBanned("g1", "spammer", true)
	require.NoError(t, s.Persist(ctx, true))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(backend.data, &doc))
	assert.Equal(t, float64(1), doc["version"])
	assert.Equal(t, []any{"troll"}, doc["bans"])

	loaded := New(backend, Options{DefaultRegion: "euw"})
	require.NoError(t, loaded.Load(ctx))

	b, ok := loaded.Binding("g1", "m1")
	require.True(t, ok)
	assert.Equal(t, "acc", b.AccountID)
	assert.Equal(t, rank.Diamond, b.Tier)
	assert.True(t, b.Cosmetic)

	info := loaded.Community("g1")
	assert.Equal(t, "na", info.Region)
	assert.Equal(t, "chan", info.NotificationChannelID)
	assert.True(t, loaded.IsBanned("g1", "troll"))
	assert.True(t, loaded.IsBanned("g1", "spammer"))
	assert.False(t, loaded.IsBanned("g2", "spammer"))
	assert.False(t, loaded.Dirty())
}

func TestSetBanned_Unban(t *testing.T) {
	s, _, _ := newTestStore(t)

	s.SetBanned("g1", "m1", true)
	s.SetBanned("g1", "m1", true)
	assert.True(t, s.IsBanned("g1", "m1"))

	s.SetBanned("g1", "m1", false)
	assert.False(t, s.IsBanned("g1", "m1"))
}

func TestStats(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.Mutate("g1", func(tx *Tx) error {
		a := tx.GetOrCreate("m1")
		a.Nickname = "Foo"
		a.AccountID = "acc"
		a.Confirmed = true
		tx.GetOrCreate("m2")
		tx.Touch(a)
		return nil
	}))

	st := s.Stats()
	assert.Equal(t, 1, st.Communities)
	assert.Equal(t, 2, st.Bindings)
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Confirmed)
	assert.True(t, st.Dirty)
}

func TestSameNickname(t *testing.T) {
	assert.True(t, SameNickname("FooBar", "foobar"))
	assert.True(t, SameNickname("STRASSE", "strasse"))
	assert.False(t, SameNickname("Foo", "Bar"))
}

func TestSetRegion_DropsAccounts(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.Mutate("g1", func(tx *Tx) error {
		b := tx.GetOrCreate("m1")
		b.AccountID = "acc-euw"
		b.Nickname = "Foo"
		b.Tier = rank.Diamond
		b.Confirmed = true
		tx.Touch(b)
		tx.GetOrCreate("m2")
		return nil
	}))

	assert.Equal(t, 1, s.SetRegion("g1", "na"))

	b, ok := s.Binding("g1", "m1")
	require.True(t, ok)
	assert.Empty(t, b.AccountID)
	assert.False(t, b.Confirmed)
	assert.Equal(t, "Foo", b.Nickname, "the claim survives and resolves by name")
	assert.False(t, b.Cleared())
	assert.Equal(t, "na", s.Community("g1").Region)

	assert.Zero(t, s.SetRegion("g1", "na"), "same region changes nothing")
}
