package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/storage"
	"github.com/Xorboo/TeemoBot/internal/verify"
)

const (
	guild = "g1"
	salt  = "pepper"
)

type nopBackend struct{}

func (nopBackend) Load(ctx context.Context) ([]byte, error)    { return nil, nil }
func (nopBackend) Save(ctx context.Context, data []byte) error { return nil }
func (nopBackend) Close() error                                { return nil }

type account struct {
	id   string
	name string
	tier rank.Tier
}

type fakeResolver struct {
	accounts  []account
	published map[string]string // account ID -> published code
	err       error
	codeReads int
}

func (f *fakeResolver) Resolve(ctx context.Context, region, nickname, accountID string) (*identity.Resolution, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if (accountID != "" && a.id == accountID) || (accountID == "" && strings.EqualFold(a.name, nickname)) {
			return &identity.Resolution{Tier: a.tier, AccountID: a.id, Nickname: a.name}, nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (f *fakeResolver) PublishedCode(ctx context.Context, region, accountID string) (string, error) {
	f.codeReads++
	return f.published[accountID], nil
}

type fakePlatform struct {
	members map[string]*platform.Member
	roles   []platform.Role
}

func (f *fakePlatform) Guilds(ctx context.Context) ([]string, error) { return []string{guild}, nil }

func (f *fakePlatform) Member(ctx context.Context, guildID, memberID string) (*platform.Member, error) {
	m, ok := f.members[memberID]
	if !ok {
		return nil, platform.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakePlatform) Members(ctx context.Context, guildID string) ([]*platform.Member, error) {
	out := make([]*platform.Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakePlatform) Roles(ctx context.Context, guildID string) ([]platform.Role, error) {
	return f.roles, nil
}

func (f *fakePlatform) SetMemberRoles(ctx context.Context, m *platform.Member, roleIDs []string) error {
	return nil
}

func (f *fakePlatform) SetDisplayName(ctx context.Context, m *platform.Member, name string) error {
	return nil
}

type fixture struct {
	store    *storage.Store
	resolver *fakeResolver
	platform *fakePlatform
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	roles := make([]platform.Role, 0)
	for _, tier := range rank.All() {
		roles = append(roles, platform.Role{ID: "role-" + tier.String(), Name: tier.RoleName()})
	}

	f := &fixture{
		store: storage.New(nopBackend{}, storage.Options{DefaultRegion: "euw"}),
		resolver: &fakeResolver{
			accounts: []account{
				{id: "A1", name: "Foo", tier: rank.Diamond},
				{id: "A2", name: "Bar", tier: rank.Gold},
			},
			published: map[string]string{},
		},
		platform: &fakePlatform{
			members: map[string]*platform.Member{
				"M":  {GuildID: guild, ID: "M", Username: "Emm"},
				"M2": {GuildID: guild, ID: "M2", Username: "Emm2"},
				"M3": {GuildID: guild, ID: "M3", Username: "Emm3"},
			},
			roles: roles,
		},
	}
	f.engine = New(f.store, f.resolver, f.platform, rank.DefaultPolicy(), salt)
	return f
}

func (f *fixture) update(t *testing.T, memberID, nickname string) *Outcome {
	t.Helper()
	outcome, err := f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: memberID, Nickname: nickname})
	require.NoError(t, err)
	return outcome
}

func (f *fixture) publish(memberID, accountID string) {
	f.resolver.published[accountID] = verify.Code(accountID, salt, memberID)
}

func TestUpdate_SensitiveTierIsRolledBack(t *testing.T) {
	f := newFixture(t)

	outcome := f.update(t, "M", "foo")
	assert.Equal(t, rank.Bronze, outcome.Tier)
	assert.Equal(t, rank.Diamond, outcome.RawTier)
	assert.False(t, outcome.Confirmed)
	assert.Equal(t, verify.Code("A1", salt, "M"), outcome.VerificationCode)
	assert.True(t, outcome.Changed())

	b, ok := f.store.Binding(guild, "M")
	require.True(t, ok)
	assert.Equal(t, rank.Diamond, b.Tier)
	assert.Equal(t, "A1", b.AccountID)
	assert.Equal(t, "Foo", b.Nickname)
	assert.False(t, b.Confirmed)

	m := f.platform.members["M"]
	assert.Equal(t, []string{"role-bronze"}, m.Roles)
	assert.Equal(t, "Emm (Foo)", m.Nick)
}

func TestUpdate_UnconfirmedClaimsCollide(t *testing.T) {
	f := newFixture(t)

	f.update(t, "M", "Foo")
	outcome := f.update(t, "M2", "Foo")
	assert.Equal(t, "A1", outcome.AccountID)
	assert.Empty(t, outcome.Displaced)

	b, ok := f.store.Binding(guild, "M")
	require.True(t, ok)
	assert.Equal(t, "A1", b.AccountID, "first claim stays")
}

func TestUpdate_ConfirmationEvictsOtherClaims(t *testing.T) {
	f := newFixture(t)

	f.update(t, "M", "Foo")
	f.update(t, "M2", "Foo")

	// M3 claimed the name but never resolved; simulate an accountless binding
	require.NoError(t, f.store.Mutate(guild, func(tx *storage.Tx) error {
		b := tx.GetOrCreate("M3")
		b.Nickname = "FOO"
		tx.Touch(b)
		return nil
	}))

	f.publish("M", "A1")
	outcome := f.update(t, "M", "")
	assert.True(t, outcome.NewlyConfirmed)
	assert.True(t, outcome.Confirmed)
	assert.Equal(t, rank.Diamond, outcome.Tier)
	assert.Empty(t, outcome.VerificationCode)
	assert.ElementsMatch(t, []string{"M2", "M3"}, outcome.Displaced)

	for _, id := range []string{"M2", "M3"} {
		b, ok := f.store.Binding(guild, id)
		require.True(t, ok)
		assert.Empty(t, b.AccountID, id)
		assert.Empty(t, b.Nickname, id)
		assert.Equal(t, []string{"role-no elo"}, f.platform.members[id].Roles, id)
	}
	assert.Equal(t, []string{"role-diamond"}, f.platform.members["M"].Roles)
}

func TestUpdate_ConfirmedOwnerBlocksOthers(t *testing.T) {
	f := newFixture(t)

	f.publish("M", "A1")
	require.True(t, f.update(t, "M", "Foo").Confirmed)

	// A code published for M is useless to M2
	_, err := f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: "M2", Nickname: "Foo"})
	var conflict *IdentityConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "M", conflict.OwnerID)
	assert.True(t, IsIdentityConflict(err))

	_, ok := f.store.Binding(guild, "M2")
	assert.False(t, ok, "no state change on conflict")
}

func TestUpdate_ConflictLeavesExistingBindingUntouched(t *testing.T) {
	f := newFixture(t)

	f.update(t, "M2", "Bar")
	before, ok := f.store.Binding(guild, "M2")
	require.True(t, ok)
	rolesBefore := append([]string(nil), f.platform.members["M2"].Roles...)

	f.publish("M", "A1")
	require.True(t, f.update(t, "M", "Foo").Confirmed)

	_, err := f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: "M2", Nickname: "Foo"})
	require.True(t, IsIdentityConflict(err))

	after, ok := f.store.Binding(guild, "M2")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, rolesBefore, f.platform.members["M2"].Roles)
}

func TestUpdate_AccountChangeResetsConfirmation(t *testing.T) {
	f := newFixture(t)

	f.publish("M", "A1")
	require.True(t, f.update(t, "M", "Foo").Confirmed)

	outcome := f.update(t, "M", "Bar")
	assert.False(t, outcome.Confirmed)
	assert.Equal(t, rank.Gold, outcome.Tier)

	// Old account is free again
	outcome = f.update(t, "M2", "Foo")
	assert.Equal(t, rank.Bronze, outcome.Tier)
}

func TestUpdate_ConfirmedRefreshSkipsCodeRead(t *testing.T) {
	f := newFixture(t)

	f.publish("M", "A1")
	f.update(t, "M", "Foo")
	reads := f.resolver.codeReads

	outcome := f.update(t, "M", "")
	assert.Equal(t, reads, f.resolver.codeReads)
	assert.False(t, outcome.Changed(), "steady state is silent")
}

func TestUpdate_WrongCodeNeverConfirms(t *testing.T) {
	f := newFixture(t)

	f.resolver.published["A1"] = verify.Code("A1", salt, "M2")
	outcome := f.update(t, "M", "Foo")
	assert.False(t, outcome.Confirmed)
	assert.True(t, outcome.RolledBack())
}

func TestUpdate_NotFoundClears(t *testing.T) {
	f := newFixture(t)

	f.update(t, "M", "Bar")
	f.resolver.accounts = nil

	outcome := f.update(t, "M", "")
	assert.True(t, outcome.NotFound)
	assert.True(t, outcome.Cleared)
	assert.Equal(t, rank.NoData, outcome.Tier)

	b, _ := f.store.Binding(guild, "M")
	assert.True(t, b.Cleared())
	assert.Equal(t, "Emm", f.platform.members["M"].Nick)
}

func TestUpdate_ServiceUnavailableKeepsBinding(t *testing.T) {
	f := newFixture(t)

	f.update(t, "M", "Bar")
	f.resolver.err = &identity.ServiceUnavailableError{Code: 503}

	_, err := f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: "M"})
	assert.True(t, identity.IsServiceUnavailable(err))

	b, _ := f.store.Binding(guild, "M")
	assert.Equal(t, "A2", b.AccountID)
}

func TestUpdate_NoClaimAndBanned(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: "M"})
	assert.ErrorIs(t, err, ErrNoClaim)

	f.store.SetBanned("", "M", true)
	_, err = f.engine.Update(context.Background(), Request{GuildID: guild, MemberID: "M", Nickname: "Bar"})
	assert.ErrorIs(t, err, ErrBanned)
}

func TestUpdate_MissingMember(t *testing.T) {
	f := newFixture(t)

	outcome := f.update(t, "ghost", "Bar")
	assert.True(t, outcome.MemberMissing)
	assert.False(t, outcome.Changed())
}

func TestConfirmedImpliesPublishedCode(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"M", "M2", "M3"} {
		f.update(t, id, "Foo")
	}
	f.publish("M3", "A1")
	f.update(t, "M3", "")

	for _, b := range f.store.Bindings(guild) {
		if b.Confirmed && rank.DefaultPolicy().IsSensitive(b.Tier) {
			assert.Equal(t, verify.Code(b.AccountID, salt, b.MemberID), f.resolver.published[b.AccountID])
		}
	}
}

func TestReapplyAndVerificationCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.VerificationCode(guild, "M")
	assert.ErrorIs(t, err, ErrNoClaim)

	f.update(t, "M", "Bar")
	code, err := f.engine.VerificationCode(guild, "M")
	require.NoError(t, err)
	assert.Equal(t, verify.Code("A2", salt, "M"), code)

	f.store.SetCosmetic(guild, "M", true)
	report, err := f.engine.Reapply(context.Background(), guild, "M", "Newbase")
	require.NoError(t, err)
	assert.True(t, report.Name.Changed)
	assert.Equal(t, "🦀 Newbase (Bar)", f.platform.members["M"].Nick)
}

func TestResetMemberWithoutBindingKeepsName(t *testing.T) {
	f := newFixture(t)
	m := f.platform.members["M"]
	m.Nick = "Custom (tag)"

	report := f.engine.ResetMember(context.Background(), m)
	assert.True(t, report.Roles.Changed)
	assert.False(t, report.Name.Changed)
	assert.Equal(t, "Custom (tag)", m.Nick)
	assert.Equal(t, []string{"role-no elo"}, m.Roles)
}
