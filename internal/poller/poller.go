package poller

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Xorboo/TeemoBot/internal/engine"
	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/reconcile"
	"github.com/Xorboo/TeemoBot/internal/storage"
)

// Engine is the part of the sync engine the poller drives
type Engine interface {
	Update(ctx context.Context, req engine.Request) (*engine.Outcome, error)
	ResetMember(ctx context.Context, member *platform.Member) reconcile.Report
}

// Notifier announces background results in the guild
type Notifier interface {
	Notify(ctx context.Context, outcome *engine.Outcome)
}

// Options configures pacing
type Options struct {
	CheckPause      time.Duration // After every check
	ChangePause     time.Duration // After a check that changed something
	FailureCooldown time.Duration // After the ranking service failed
	IdlePause       time.Duration // While the poller is not live
	PersistEvery    int           // Checks between forced store flushes
	Verbose         bool          // Notify every outcome, not only changes

	Clock clockwork.Clock
}

func (o *Options) setDefaults() {
	if o.CheckPause <= 0 {
		o.CheckPause = 1500 * time.Millisecond
	}
	if o.ChangePause <= 0 {
		o.ChangePause = 5 * time.Second
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = 5 * time.Minute
	}
	if o.IdlePause <= 0 {
		o.IdlePause = 10 * time.Second
	}
	if o.PersistEvery <= 0 {
		o.PersistEvery = 20
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Stats are the poller counters
type Stats struct {
	Live     bool      `json:"live"`
	Running  bool      `json:"running"`
	Checks   int64     `json:"checks"`
	Changes  int64     `json:"changes"`
	Failures int64     `json:"failures"`
	LastWalk time.Time `json:"last_walk,omitempty"`
}

type step int

const (
	stepChecked step = iota
	stepChanged
	stepUnavailable
)

// Poller walks all bindings, then all members, forever, re-resolving each one
type Poller struct {
	store    *storage.Store
	engine   Engine
	platform platform.Platform
	notifier Notifier
	opts     Options

	// sleep pauses the walk and reports false when the poller should exit
	sleep func(ctx context.Context, d time.Duration) bool

	live     atomic.Bool
	running  atomic.Bool
	checks   atomic.Int64
	changes  atomic.Int64
	failures atomic.Int64

	mu       sync.Mutex
	lastWalk time.Time

	sinceFlush int // Only touched by the loop goroutine

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Poller. It starts live; notifier may be nil.
func New(store *storage.Store, e Engine, p platform.Platform, notifier Notifier, opts Options) *Poller {
	opts.setDefaults()
	poller := &Poller{
		store:    store,
		engine:   e,
		platform: p,
		notifier: notifier,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
	poller.sleep = poller.clockSleep
	poller.live.Store(true)
	return poller
}

// Start launches the walk loop. Calling it while the loop runs does nothing.
func (p *Poller) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		slog.Debug("Poller already running")
		return
	}

	slog.Info("Starting poller",
		"checkPause", p.opts.CheckPause,
		"changePause", p.opts.ChangePause,
		"failureCooldown", p.opts.FailureCooldown)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		p.run(ctx)
	}()
}

// Stop signals the loop to exit and waits for it
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// SetLive pauses or resumes the walks
func (p *Poller) SetLive(live bool) {
	if p.live.Swap(live) != live {
		slog.Info("Poller live flag changed", "live", live)
	}
}

// Live reports whether the walks are enabled
func (p *Poller) Live() bool {
	return p.live.Load()
}

// Stats returns the current counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	lastWalk := p.lastWalk
	p.mu.Unlock()

	return Stats{
		Live:     p.live.Load(),
		Running:  p.running.Load(),
		Checks:   p.checks.Load(),
		Changes:  p.changes.Load(),
		Failures: p.failures.Load(),
		LastWalk: lastWalk,
	}
}

func (p *Poller) run(ctx context.Context) {
	for {
		if p.stopped(ctx) {
			slog.Info("Poller stopped")
			return
		}
		if !p.live.Load() {
			p.sleep(ctx, p.opts.IdlePause)
			continue
		}

		before := p.checks.Load()
		p.walkBindings(ctx)
		p.walkMembers(ctx)

		p.mu.Lock()
		p.lastWalk = p.opts.Clock.Now()
		p.mu.Unlock()

		// Nothing to check yet
		if p.checks.Load() == before {
			p.sleep(ctx, p.opts.IdlePause)
		}
	}
}

// walkBindings re-resolves every stored binding of every community
func (p *Poller) walkBindings(ctx context.Context) {
	for _, guildID := range p.store.GuildIDs() {
		slog.Debug("Walking bindings", "guildID", guildID)

		for idx := 0; ; {
			if !p.proceed(ctx) {
				return
			}
			b, ok := p.store.BindingAt(guildID, idx)
			if !ok {
				break
			}

			result := p.unit(func() (bool, error) {
				return p.checkBinding(ctx, guildID, b)
			})
			if !p.pace(ctx, result) {
				return
			}
			if result != stepUnavailable {
				idx++
			}
		}
		p.flush(ctx)
	}
}

// walkMembers checks every member of every guild the bot is in
func (p *Poller) walkMembers(ctx context.Context) {
	guilds, err := p.platform.Guilds(ctx)
	if err != nil {
		slog.Error("Failed to list guilds", "error", err)
		return
	}

	for _, guildID := range guilds {
		if !p.proceed(ctx) {
			return
		}
		members, err := p.platform.Members(ctx, guildID)
		if err != nil {
			slog.Error("Failed to list members", "guildID", guildID, "error", err)
			continue
		}
		slog.Debug("Walking members", "guildID", guildID, "count", len(members))

		for idx := 0; idx < len(members); {
			if !p.proceed(ctx) {
				return
			}
			m := members[idx]
			if m.Bot {
				idx++
				continue
			}

			result := p.unit(func() (bool, error) {
				return p.checkMember(ctx, m)
			})
			if !p.pace(ctx, result) {
				return
			}
			if result != stepUnavailable {
				idx++
			}
		}
		p.flush(ctx)
	}
}

// checkBinding clears empty bindings and re-resolves the rest
func (p *Poller) checkBinding(ctx context.Context, guildID string, b storage.Binding) (bool, error) {
	if !b.Cleared() {
		return p.update(ctx, guildID, b.MemberID)
	}

	cleared := p.store.Clear(guildID, b.MemberID)
	member, err := p.platform.Member(ctx, guildID, b.MemberID)
	if errors.Is(err, platform.ErrMemberNotFound) {
		return cleared, nil
	}
	if err != nil {
		return cleared, err
	}

	outcome := &engine.Outcome{
		GuildID:      guildID,
		MemberID:     b.MemberID,
		Cleared:      cleared,
		RawTier:      rank.NoData,
		Tier:         rank.NoData,
		PreviousTier: rank.NoData,
		Report:       p.engine.ResetMember(ctx, member),
	}
	p.report(ctx, outcome)
	return outcome.Changed(), nil
}

// checkMember resets members without a claim and re-resolves the rest
func (p *Poller) checkMember(ctx context.Context, m *platform.Member) (bool, error) {
	b, ok := p.store.Binding(m.GuildID, m.ID)
	if !ok || b.Cleared() {
		return p.engine.ResetMember(ctx, m).Changed(), nil
	}
	return p.update(ctx, m.GuildID, m.ID)
}

func (p *Poller) update(ctx context.Context, guildID, memberID string) (bool, error) {
	outcome, err := p.engine.Update(ctx, engine.Request{GuildID: guildID, MemberID: memberID})
	switch {
	case err == nil:
		p.report(ctx, outcome)
		return outcome.Changed(), nil
	case engine.IsIdentityConflict(err), errors.Is(err, engine.ErrNoClaim), errors.Is(err, engine.ErrBanned):
		slog.Debug("Skipping binding", "guildID", guildID, "memberID", memberID, "reason", err)
		return false, nil
	case errors.Is(err, identity.ErrRequestRejected):
		slog.Warn("Ranking service rejected binding, skipping", "guildID", guildID, "memberID", memberID, "error", err)
		return false, nil
	default:
		return false, err
	}
}

// report notifies only real changes unless verbose
func (p *Poller) report(ctx context.Context, outcome *engine.Outcome) {
	if p.notifier == nil || outcome.MemberMissing {
		return
	}
	if outcome.Changed() || p.opts.Verbose {
		p.notifier.Notify(ctx, outcome)
	}
}

// unit runs one check, recovering from anything unexpected
func (p *Poller) unit(check func() (bool, error)) (result step) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in sync check", "panic", r, "stack", string(debug.Stack()))
			result = stepChecked
		}
	}()

	p.checks.Add(1)
	changed, err := check()
	if err != nil {
		if identity.IsServiceUnavailable(err) {
			return stepUnavailable
		}
		slog.Error("Sync check failed", "error", err)
		return stepChecked
	}
	if changed {
		p.changes.Add(1)
		return stepChanged
	}
	return stepChecked
}

// pace sleeps according to the result and flushes periodically
func (p *Poller) pace(ctx context.Context, result step) bool {
	p.sinceFlush++
	if p.sinceFlush >= p.opts.PersistEvery {
		p.flush(ctx)
	}

	switch result {
	case stepUnavailable:
		p.failures.Add(1)
		slog.Warn("Ranking service unavailable, cooling down", "cooldown", p.opts.FailureCooldown)
		return p.sleep(ctx, p.opts.FailureCooldown)
	case stepChanged:
		return p.sleep(ctx, p.opts.ChangePause)
	default:
		return p.sleep(ctx, p.opts.CheckPause)
	}
}

func (p *Poller) flush(ctx context.Context) {
	p.sinceFlush = 0
	if err := p.store.Persist(ctx, true); err != nil {
		slog.Error("Failed to persist bindings", "error", err)
	}
}

// proceed is checked at the top of every iteration
func (p *Poller) proceed(ctx context.Context) bool {
	return p.live.Load() && !p.stopped(ctx)
}

func (p *Poller) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

func (p *Poller) clockSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.stopChan:
		return false
	case <-p.opts.Clock.After(d):
		return true
	}
}
