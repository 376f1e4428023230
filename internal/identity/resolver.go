// Package identity resolves claimed summoner names into accounts and ranks.
// Everything here is a read; nothing is stored or changed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/riot"
)

var (
	// ErrAccountNotFound means the claimed nickname or account no longer resolves
	ErrAccountNotFound = errors.New("account not found")

	// ErrRequestRejected means the ranking service refused a lookup for this claim
	// only, e.g. an account ID from another region. Retrying later will not help.
	ErrRequestRejected = errors.New("ranking service rejected the request")
)

// ServiceUnavailableError is a transient failure of the ranking service
type ServiceUnavailableError struct {
	Code int // HTTP status, 0 for transport errors
	Err  error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("ranking service unavailable (code %d): %v", e.Code, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// IsServiceUnavailable reports whether err is a ServiceUnavailableError
func IsServiceUnavailable(err error) bool {
	var target *ServiceUnavailableError
	return errors.As(err, &target)
}

// RankingClient is the subset of the Riot API the resolver needs
type RankingClient interface {
	GetSummonerByName(ctx context.Context, region, name string) (*riot.Summoner, error)
	GetSummonerByID(ctx context.Context, region, summonerID string) (*riot.Summoner, error)
	GetLeagueEntries(ctx context.Context, region, summonerID string) ([]riot.LeagueEntry, error)
	GetThirdPartyCode(ctx context.Context, region, summonerID string) (string, error)
}

// Resolution is the current external state of a claimed account
type Resolution struct {
	Tier      rank.Tier
	AccountID string
	Nickname  string // Canonical name as the game spells it
}

// Probe is a known-good account used to tell "not found" from "API down"
type Probe struct {
	Nickname string
	Region   string
}

// probePeriod is how long a probe result is trusted
const probePeriod = 60 * time.Second

// Resolver looks up accounts and their best ranked tier
type Resolver struct {
	client RankingClient
	queues map[string]bool
	probe  *Probe
	clock  clockwork.Clock

	mu          sync.Mutex
	lastProbe   time.Time
	probeResult bool
}

// DefaultQueues are the ranked queues counted when no allow-list is configured
var DefaultQueues = []string{riot.QueueRankedSolo, riot.QueueRankedFlex}

// Option customizes a Resolver
type Option func(*Resolver)

// WithClock sets the clock used for the probe cache
func WithClock(clock clockwork.Clock) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// NewResolver creates a resolver counting only the given queues
func NewResolver(client RankingClient, queues []string, probe *Probe, opts ...Option) *Resolver {
	if len(queues) == 0 {
		queues = DefaultQueues
	}
	allowed := make(map[string]bool, len(queues))
	for _, q := range queues {
		allowed[q] = true
	}
	if probe != nil && probe.Nickname == "" {
		probe = nil
	}
	r := &Resolver{
		client: client,
		queues: allowed,
		probe:  probe,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the account behind a claim and its tier. A known accountID is used to
// refresh the canonical nickname; otherwise the nickname is looked up.
func (r *Resolver) Resolve(ctx context.Context, region, nickname, accountID string) (*Resolution, error) {
	var (
		summoner *riot.Summoner
		err      error
	)
	if accountID != "" {
		summoner, err = r.client.GetSummonerByID(ctx, region, accountID)
	} else {
		nickname = strings.TrimSpace(nickname)
		if nickname == "" {
			return nil, ErrAccountNotFound
		}
		summoner, err = r.client.GetSummonerByName(ctx, region, nickname)
	}
	if err != nil {
		return nil, r.classify(ctx, err)
	}

	entries, err := r.client.GetLeagueEntries(ctx, region, summoner.ID)
	if err != nil {
		if errors.Is(err, riot.ErrNotFound) {
			// A summoner that exists but has no league record is simply unranked
			entries = nil
		} else {
			return nil, r.classify(ctx, err)
		}
	}

	tier := r.bestTier(entries)
	slog.Debug("Resolved account", "nickname", summoner.Name, "region", region, "tier", tier)

	return &Resolution{
		Tier:      tier,
		AccountID: summoner.ID,
		Nickname:  summoner.Name,
	}, nil
}

// PublishedCode reads the verification field of an account. An unset field is "".
func (r *Resolver) PublishedCode(ctx context.Context, region, accountID string) (string, error) {
	code, err := r.client.GetThirdPartyCode(ctx, region, accountID)
	if errors.Is(err, riot.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", toServiceError(err)
	}
	return code, nil
}

// bestTier returns the highest tier over the allowed queues
func (r *Resolver) bestTier(entries []riot.LeagueEntry) rank.Tier {
	best := rank.Unranked
	for _, e := range entries {
		if !r.queues[e.QueueType] {
			continue
		}
		tier, err := rank.Parse(e.Tier)
		if err != nil {
			slog.Warn("Ignoring unknown tier", "tier", e.Tier, "queue", e.QueueType)
			continue
		}
		best = rank.Max(best, tier)
	}
	return best
}

// classify maps client errors onto the resolver's error kinds
func (r *Resolver) classify(ctx context.Context, err error) error {
	if errors.Is(err, riot.ErrNotFound) {
		if !r.apiWorking(ctx) {
			return &ServiceUnavailableError{Code: 0, Err: fmt.Errorf("probe account failed: %w", err)}
		}
		return ErrAccountNotFound
	}
	return toServiceError(err)
}

func toServiceError(err error) error {
	if errors.Is(err, riot.ErrUnknownRegion) {
		return fmt.Errorf("%w: %w", ErrRequestRejected, err)
	}
	var apiErr *riot.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Rejected() {
			return fmt.Errorf("%w: %w", ErrRequestRejected, err)
		}
		return &ServiceUnavailableError{Code: apiErr.StatusCode, Err: err}
	}
	return &ServiceUnavailableError{Err: err}
}

// apiWorking looks up the probe account, caching the answer for probePeriod.
// Without a probe the API is assumed to work.
func (r *Resolver) apiWorking(ctx context.Context) bool {
	if r.probe == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastProbe.IsZero() && r.clock.Since(r.lastProbe) < probePeriod {
		return r.probeResult
	}

	slog.Info("Checking Riot API status")
	r.lastProbe = r.clock.Now()
	_, err := r.client.GetSummonerByName(ctx, r.probe.Region, r.probe.Nickname)
	r.probeResult = err == nil
	if r.probeResult {
		slog.Info("Riot API is working properly")
	} else {
		slog.Warn("Riot API probe failed", "error", err)
	}
	return r.probeResult
}
