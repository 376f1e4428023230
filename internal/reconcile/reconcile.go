// Package reconcile brings a member's tier role and display name in line with their binding
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/rank"
)

var (
	// ErrRoleNotConfigured means the guild has no role named after the target tier
	ErrRoleNotConfigured = errors.New("tier role not configured")

	// ErrInsufficientPrivilege means the platform refused the change
	ErrInsufficientPrivilege = platform.ErrForbidden
)

// Result is the outcome of one reconciliation step
type Result struct {
	Success bool
	Changed bool
	Err     error
}

// Target is the state a member should end up in
type Target struct {
	Tier     rank.Tier
	Nickname string // Empty for cleared bindings, leaving only the base name
	Cosmetic bool
	Base     string // Replaces the member's current name as the base when set
}

// Report holds both reconciliation results
type Report struct {
	Roles Result
	Name  Result
}

// Changed reports whether anything on the platform was modified
func (r Report) Changed() bool {
	return r.Roles.Changed || r.Name.Changed
}

// Reconciler applies targets through a platform
type Reconciler struct {
	platform platform.Platform
}

// New creates a reconciler
func New(p platform.Platform) *Reconciler {
	return &Reconciler{platform: p}
}

// Apply updates the member's tier role and then its display name. The two steps are
// independent: a failed role change does not prevent the rename. The member is updated
// in place with whatever was applied.
func (r *Reconciler) Apply(ctx context.Context, m *platform.Member, target Target) Report {
	return Report{
		Roles: r.ApplyRoles(ctx, m, target.Tier),
		Name:  r.applyName(ctx, m, target),
	}
}

// ApplyRoles only updates the tier role
func (r *Reconciler) ApplyRoles(ctx context.Context, m *platform.Member, tier rank.Tier) Result {
	roles, err := r.platform.Roles(ctx, m.GuildID)
	if err != nil {
		return Result{Err: err}
	}

	next, changed, err := PlanRoles(m.Roles, TierRoles(roles), tier)
	if err != nil {
		slog.Warn("Cannot assign tier role", "guildID", m.GuildID, "memberID", m.ID, "tier", tier, "error", err)
		return Result{Err: err}
	}
	if !changed {
		return Result{Success: true}
	}

	if err := r.platform.SetMemberRoles(ctx, m, next); err != nil {
		slog.Warn("Failed to update roles", "guildID", m.GuildID, "memberID", m.ID, "error", err)
		return Result{Err: err}
	}
	m.Roles = next
	slog.Debug("Updated roles", "guildID", m.GuildID, "memberID", m.ID, "tier", tier)
	return Result{Success: true, Changed: true}
}

func (r *Reconciler) applyName(ctx context.Context, m *platform.Member, target Target) Result {
	current := m.DisplayName()
	source := current
	if target.Base != "" {
		source = target.Base
	}
	name := PlanName(source, target.Nickname, target.Cosmetic)
	if name == current {
		return Result{Success: true}
	}

	if err := r.platform.SetDisplayName(ctx, m, name); err != nil {
		slog.Warn("Failed to update display name", "guildID", m.GuildID, "memberID", m.ID, "error", err)
		return Result{Err: err}
	}
	m.Nick = name
	slog.Debug("Updated display name", "guildID", m.GuildID, "memberID", m.ID, "name", name)
	return Result{Success: true, Changed: true}
}

// TierRoles maps each tier to the guild role carrying its name
func TierRoles(roles []platform.Role) map[rank.Tier]string {
	byName := make(map[string]string, len(roles))
	for _, r := range roles {
		byName[strings.ToLower(r.Name)] = r.ID
	}

	out := make(map[rank.Tier]string)
	for _, t := range rank.All() {
		if id, ok := byName[strings.ToLower(t.RoleName())]; ok {
			out[t] = id
		}
	}
	return out
}

// PlanRoles computes the member's role set holding exactly one tier role. Roles that
// are not tier roles are kept in their original order.
func PlanRoles(current []string, tierRoles map[rank.Tier]string, target rank.Tier) ([]string, bool, error) {
	targetID, ok := tierRoles[target]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrRoleNotConfigured, target.RoleName())
	}

	isTierRole := make(map[string]bool, len(tierRoles))
	for _, id := range tierRoles {
		isTierRole[id] = true
	}

	next := make([]string, 0, len(current)+1)
	for _, id := range current {
		if !isTierRole[id] {
			next = append(next, id)
		}
	}
	next = append(next, targetID)

	return next, !sameSet(current, next), nil
}

func sameSet(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	other := make(map[string]bool, len(b))
	for _, id := range b {
		if !set[id] {
			return false
		}
		other[id] = true
	}
	return len(set) == len(other)
}
