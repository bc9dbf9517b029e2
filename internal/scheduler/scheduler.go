package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/yourorg/coinwatch/internal/alerting"
	"github.com/yourorg/coinwatch/internal/domain"
)

const DefaultInterval = 60 * time.Second

type AlertAssets interface {
	ActiveAssets(ctx context.Context) ([]domain.AssetID, error)
}

type HeldAssets interface {
	HeldAssets(ctx context.Context) ([]domain.AssetID, error)
}

type Fetcher interface {
	FetchPrices(ctx context.Context, assets []domain.AssetID, currency string) (map[domain.AssetID]domain.PriceSnapshot, []domain.AssetID, error)
}

type Cache interface {
	GetBatch(assets []domain.AssetID) map[domain.AssetID]*domain.PriceSnapshot
	PutAll(snaps map[domain.AssetID]domain.PriceSnapshot)
	Prune() int
}

type Evaluator interface {
	Evaluate(ctx context.Context, assets []domain.AssetID) alerting.Result
}

// Publisher pushes refreshed snapshots to the front-end stream. Optional.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap domain.PriceSnapshot) error
}

type Config struct {
	Interval time.Duration
	// Cooldown is how long the loop stands down after a provider throttle
	// before rejoining the tick cadence.
	Cooldown time.Duration
	Currency string
}

// Scheduler drives the engine: on each tick it collects the distinct
// assets referenced by active alerts and holdings, fetches prices for
// cache misses only, evaluates alerts, and publishes refreshed snapshots.
// It owns no user-facing state, so a restart just resumes polling with a
// cold cache.
type Scheduler struct {
	alerts   AlertAssets
	holdings HeldAssets
	fetcher  Fetcher
	cache    Cache
	eval     Evaluator
	pub      Publisher
	interval time.Duration
	cooldown time.Duration
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

func New(alerts AlertAssets, holdings HeldAssets, fetcher Fetcher, cache Cache, eval Evaluator, pub Publisher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = cfg.Interval
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Scheduler{
		alerts:   alerts,
		holdings: holdings,
		fetcher:  fetcher,
		cache:    cache,
		eval:     eval,
		pub:      pub,
		interval: cfg.Interval,
		cooldown: cfg.Cooldown,
		currency: cfg.Currency,
		logger:   logger,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled. The first tick fires immediately so a
// restarted engine warms its cache without waiting a full period. Work
// that overruns the period consumes the next slot — ticks are skipped,
// never queued.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		started := s.now()
		res := s.runTick(ctx)
		if elapsed := s.now().Sub(started); elapsed >= s.interval {
			s.logger.Warn("tick overrun, skipping next slot",
				"elapsed", elapsed, "interval", s.interval)
		}

		if res.rateLimited {
			s.logger.Warn("provider rate limited, standing down",
				"cooldown", s.cooldown)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cooldown):
			}
		}

		// A slot that fired while work or the cooldown was in progress is
		// dropped, not queued, so the cadence stays anchored to the ticker.
		select {
		case <-ticker.C:
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tickResult carries one tick's outcome through its phases; nothing here
// is shared between ticks.
type tickResult struct {
	assets      int
	misses      int
	fetched     int
	unresolved  int
	evaluated   int
	fired       int
	skipped     int
	rateLimited bool
}

func (s *Scheduler) runTick(ctx context.Context) tickResult {
	// One slow provider call must not push work past the next scheduling
	// decision.
	tctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	var res tickResult

	assets := s.collect(tctx)
	res.assets = len(assets)
	if len(assets) == 0 {
		return res
	}

	s.fetch(tctx, assets, &res)

	eval := s.eval.Evaluate(tctx, assets)
	res.evaluated = eval.Evaluated
	res.fired = eval.Fired
	res.skipped = len(eval.Skipped)

	s.cache.Prune()

	s.logger.Info("tick complete",
		"assets", res.assets,
		"misses", res.misses,
		"fetched", res.fetched,
		"unresolved", res.unresolved,
		"evaluated", res.evaluated,
		"fired", res.fired,
		"skipped", res.skipped)
	return res
}

// collect gathers the distinct assets referenced by active alerts and
// held portfolios. A failure on one source degrades to the other rather
// than aborting the tick.
func (s *Scheduler) collect(ctx context.Context) []domain.AssetID {
	seen := make(map[domain.AssetID]bool)

	fromAlerts, err := s.alerts.ActiveAssets(ctx)
	if err != nil {
		s.logger.Error("collecting alert assets failed", "err", err)
	}
	for _, a := range fromAlerts {
		seen[a] = true
	}

	fromHoldings, err := s.holdings.HeldAssets(ctx)
	if err != nil {
		s.logger.Error("collecting held assets failed", "err", err)
	}
	for _, a := range fromHoldings {
		seen[a] = true
	}

	assets := make([]domain.AssetID, 0, len(seen))
	for a := range seen {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}

// fetch refreshes cache misses in one batched call. Fetch failures leave
// the cache as-is; evaluation then runs against whatever is still fresh.
func (s *Scheduler) fetch(ctx context.Context, assets []domain.AssetID, res *tickResult) {
	cached := s.cache.GetBatch(assets)
	var misses []domain.AssetID
	for _, a := range assets {
		if _, ok := cached[a]; !ok {
			misses = append(misses, a)
		}
	}
	res.misses = len(misses)
	if len(misses) == 0 {
		return
	}

	snaps, failed, err := s.fetcher.FetchPrices(ctx, misses, s.currency)
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		// A throttle mid-fetch still yields the pages that landed; cache
		// them before standing down.
		res.rateLimited = true
	case err != nil:
		s.logger.Error("price fetch failed", "misses", len(misses), "err", err)
		return
	}
	res.fetched = len(snaps)
	res.unresolved = len(failed)
	if len(failed) > 0 {
		s.logger.Warn("provider could not resolve some assets", "assets", failed)
	}
	if len(snaps) == 0 {
		return
	}

	s.cache.PutAll(snaps)
	if s.pub == nil {
		return
	}
	for _, snap := range snaps {
		if err := s.pub.PublishSnapshot(ctx, snap); err != nil {
			s.logger.Error("snapshot publish failed", "asset", snap.Asset, "err", err)
		}
	}
}
