// Package engine resolves one member's claim end to end: lookup, confirmation,
// conflict eviction, persistence and reconciliation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/reconcile"
	"github.com/Xorboo/TeemoBot/internal/storage"
	"github.com/Xorboo/TeemoBot/internal/verify"
)

var (
	// ErrNoClaim means the member has no nickname to resolve
	ErrNoClaim = errors.New("member has no claimed account")

	// ErrBanned means the member is on a ban list
	ErrBanned = errors.New("member is banned")
)

// IdentityConflictError means the account is already confirmed by another member
type IdentityConflictError struct {
	AccountID string
	OwnerID   string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("account %s is confirmed by member %s", e.AccountID, e.OwnerID)
}

// IsIdentityConflict reports whether err is an IdentityConflictError
func IsIdentityConflict(err error) bool {
	var target *IdentityConflictError
	return errors.As(err, &target)
}

// Resolver is the read side of the ranking service
type Resolver interface {
	Resolve(ctx context.Context, region, nickname, accountID string) (*identity.Resolution, error)
	PublishedCode(ctx context.Context, region, accountID string) (string, error)
}

// Request asks for one member's binding to be resolved. An empty Nickname refreshes
// the stored claim instead of making a new one.
type Request struct {
	GuildID  string
	MemberID string
	Nickname string
}

// Outcome describes what one resolution did
type Outcome struct {
	GuildID  string
	MemberID string

	AccountID        string
	Nickname         string
	PreviousNickname string

	RawTier      rank.Tier // Resolved tier, stored for change detection
	Tier         rank.Tier // Tier the member may display
	PreviousTier rank.Tier // Displayed tier before this resolution

	Confirmed      bool
	NewlyConfirmed bool

	// VerificationCode is set when a sensitive tier was rolled back; the member has to
	// publish it to be confirmed
	VerificationCode string

	NotFound      bool // The claim no longer resolves and was cleared
	Cleared       bool
	MemberMissing bool // The member is not in the guild, nothing was done

	Displaced []string // Members whose bindings were evicted by this confirmation
	Report    reconcile.Report
}

// RolledBack reports whether the displayed tier was lowered until confirmation
func (o *Outcome) RolledBack() bool {
	return o.VerificationCode != ""
}

// Changed reports whether the resolution had a visible effect
func (o *Outcome) Changed() bool {
	if o.MemberMissing {
		return false
	}
	return o.Tier != o.PreviousTier ||
		!storage.SameNickname(o.Nickname, o.PreviousNickname) ||
		o.NewlyConfirmed ||
		o.Cleared ||
		len(o.Displaced) > 0 ||
		o.Report.Changed()
}

// Engine ties the store, resolver and platform together
type Engine struct {
	store      *storage.Store
	resolver   Resolver
	platform   platform.Platform
	reconciler *reconcile.Reconciler
	policy     *rank.Policy
	salt       string
}

// New creates an engine
func New(store *storage.Store, resolver Resolver, p platform.Platform, policy *rank.Policy, salt string) *Engine {
	if policy == nil {
		policy = rank.DefaultPolicy()
	}
	return &Engine{
		store:      store,
		resolver:   resolver,
		platform:   p,
		reconciler: reconcile.New(p),
		policy:     policy,
		salt:       salt,
	}
}

// Policy returns the sensitive-tier policy in use
func (e *Engine) Policy() *rank.Policy {
	return e.policy
}

// Update resolves a member's claim and applies the result. ServiceUnavailable,
// IdentityConflict, ErrNoClaim and ErrBanned are returned as errors; everything else
// is described by the Outcome.
func (e *Engine) Update(ctx context.Context, req Request) (*Outcome, error) {
	if e.store.IsBanned(req.GuildID, req.MemberID) {
		return nil, ErrBanned
	}

	member, err := e.platform.Member(ctx, req.GuildID, req.MemberID)
	if errors.Is(err, platform.ErrMemberNotFound) {
		return &Outcome{GuildID: req.GuildID, MemberID: req.MemberID, MemberMissing: true}, nil
	}
	if err != nil {
		return nil, err
	}

	current, ok := e.store.Binding(req.GuildID, req.MemberID)
	if !ok {
		current.Tier = rank.NoData
	}
	nickname, accountID := req.Nickname, ""
	if nickname == "" {
		if current.Cleared() {
			return nil, ErrNoClaim
		}
		nickname, accountID = current.Nickname, current.AccountID
	}

	region := e.store.Community(req.GuildID).Region
	res, err := e.resolver.Resolve(ctx, region, nickname, accountID)
	if errors.Is(err, identity.ErrAccountNotFound) {
		return e.notFound(ctx, member, current), nil
	}
	if err != nil {
		return nil, err
	}

	codeMatches, err := e.checkCode(ctx, region, req.MemberID, current, res)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		GuildID:   req.GuildID,
		MemberID:  req.MemberID,
		AccountID: res.AccountID,
		Nickname:  res.Nickname,
		RawTier:   res.Tier,
	}

	var cosmetic bool
	err = e.store.Mutate(req.GuildID, func(tx *storage.Tx) error {
		// The owner is read again here: it may have changed while we were resolving
		if owner := tx.FindConfirmedByAccount(res.AccountID); owner != nil && owner.MemberID != req.MemberID {
			return &IdentityConflictError{AccountID: res.AccountID, OwnerID: owner.MemberID}
		}

		b := tx.GetOrCreate(req.MemberID)
		outcome.PreviousNickname = b.Nickname
		outcome.PreviousTier = e.policy.Display(b.Tier, b.Confirmed)

		changed := b.AccountID != res.AccountID || b.Nickname != res.Nickname || b.Tier != res.Tier
		if b.AccountID != res.AccountID && b.Confirmed {
			slog.Info("Account changed, resetting confirmation", "guildID", req.GuildID, "memberID", req.MemberID)
			b.Confirmed = false
		}
		b.AccountID = res.AccountID
		b.Nickname = res.Nickname
		b.Tier = res.Tier

		if codeMatches && !b.Confirmed {
			b.Confirmed = true
			outcome.NewlyConfirmed = true
			outcome.Displaced = evict(tx, b)
			changed = true
		}
		if changed {
			tx.Touch(b)
		}

		outcome.Confirmed = b.Confirmed
		outcome.Tier = e.policy.Display(b.Tier, b.Confirmed)
		cosmetic = b.Cosmetic
		return nil
	})
	if err != nil {
		slog.Info("Identity conflict", "guildID", req.GuildID, "memberID", req.MemberID, "error", err)
		return nil, err
	}

	if outcome.Tier != outcome.RawTier {
		outcome.VerificationCode = verify.Code(res.AccountID, e.salt, req.MemberID)
	}
	if outcome.NewlyConfirmed {
		slog.Info("Binding confirmed", "guildID", req.GuildID, "memberID", req.MemberID,
			"tier", outcome.RawTier, "displaced", len(outcome.Displaced))
	}

	outcome.Report = e.reconciler.Apply(ctx, member, reconcile.Target{
		Tier:     outcome.Tier,
		Nickname: outcome.Nickname,
		Cosmetic: cosmetic,
	})

	for _, id := range outcome.Displaced {
		if _, err := e.Reset(ctx, req.GuildID, id); err != nil && !errors.Is(err, platform.ErrMemberNotFound) {
			slog.Warn("Failed to reset displaced member", "guildID", req.GuildID, "memberID", id, "error", err)
		}
	}

	return outcome, nil
}

// checkCode reads the published code when the resolved tier needs confirmation.
// It runs before the store section since it is an external call.
func (e *Engine) checkCode(ctx context.Context, region, memberID string, current storage.Binding, res *identity.Resolution) (bool, error) {
	if !e.policy.IsSensitive(res.Tier) {
		return false, nil
	}
	if current.Confirmed && current.AccountID == res.AccountID {
		return false, nil
	}

	published, err := e.resolver.PublishedCode(ctx, region, res.AccountID)
	if err != nil {
		return false, err
	}
	return verify.Matches(published, res.AccountID, e.salt, memberID), nil
}

// evict clears every other binding claiming the confirmed account, either by id or,
// for bindings that never resolved, by nickname
func evict(tx *storage.Tx, confirmed *storage.Binding) []string {
	var displaced []string
	for _, b := range tx.Bindings() {
		if b.MemberID == confirmed.MemberID || b.Cleared() {
			continue
		}
		sameAccount := b.AccountID == confirmed.AccountID
		sameName := !b.HasAccount() && storage.SameNickname(b.Nickname, confirmed.Nickname)
		if !sameAccount && !sameName {
			continue
		}
		tx.Clear(b.MemberID)
		displaced = append(displaced, b.MemberID)
		slog.Info("Displaced binding", "guildID", tx.GuildID(), "memberID", b.MemberID, "ownerID", confirmed.MemberID)
	}
	return displaced
}

func (e *Engine) notFound(ctx context.Context, member *platform.Member, current storage.Binding) *Outcome {
	outcome := &Outcome{
		GuildID:          member.GuildID,
		MemberID:         member.ID,
		NotFound:         true,
		PreviousNickname: current.Nickname,
		PreviousTier:     e.policy.Display(current.Tier, current.Confirmed),
		RawTier:          rank.NoData,
		Tier:             rank.NoData,
	}
	outcome.Cleared = e.store.Clear(member.GuildID, member.ID)
	outcome.Report = e.reconciler.Apply(ctx, member, reconcile.Target{
		Tier:     rank.NoData,
		Cosmetic: current.Cosmetic,
	})
	slog.Info("Claimed account not found", "guildID", member.GuildID, "memberID", member.ID,
		"nickname", current.Nickname, "cleared", outcome.Cleared)
	return outcome
}

// Reset puts a member without a claim back to the no-data role. Members that have a
// binding also get their account suffix removed; members that never had one keep
// their name.
func (e *Engine) Reset(ctx context.Context, guildID, memberID string) (reconcile.Report, error) {
	member, err := e.platform.Member(ctx, guildID, memberID)
	if err != nil {
		return reconcile.Report{}, err
	}
	return e.ResetMember(ctx, member), nil
}

// ResetMember is Reset for an already fetched member
func (e *Engine) ResetMember(ctx context.Context, member *platform.Member) reconcile.Report {
	b, ok := e.store.Binding(member.GuildID, member.ID)
	if !ok {
		return reconcile.Report{
			Roles: e.reconciler.ApplyRoles(ctx, member, rank.NoData),
			Name:  reconcile.Result{Success: true},
		}
	}
	return e.reconciler.Apply(ctx, member, reconcile.Target{
		Tier:     rank.NoData,
		Cosmetic: b.Cosmetic,
	})
}

// Reapply reconciles a member from the stored binding without resolving it again.
// A non-empty base replaces the member's current name as the base.
func (e *Engine) Reapply(ctx context.Context, guildID, memberID, base string) (reconcile.Report, error) {
	member, err := e.platform.Member(ctx, guildID, memberID)
	if err != nil {
		return reconcile.Report{}, err
	}

	b, _ := e.store.Binding(guildID, memberID)
	target := reconcile.Target{
		Tier:     e.policy.Display(b.Tier, b.Confirmed),
		Nickname: b.Nickname,
		Cosmetic: b.Cosmetic,
		Base:     base,
	}
	if b.Cleared() {
		target.Tier = rank.NoData
	}
	return e.reconciler.Apply(ctx, member, target), nil
}

// VerificationCode returns the code a member has to publish for their bound account
func (e *Engine) VerificationCode(guildID, memberID string) (string, error) {
	b, ok := e.store.Binding(guildID, memberID)
	if !ok || !b.HasAccount() {
		return "", ErrNoClaim
	}
	return verify.Code(b.AccountID, e.salt, memberID), nil
}
