// Package ingestion consumes the price and trade feeds, enforces ordering
// and identity invariants, persists raw data, and hands validated events to
// the decision engine. Persistence problems are logged and counted; they
// never block the decision path.
package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/cycles"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
)

// TickHandler receives validated in-order price ticks.
type TickHandler interface {
	HandleTick(ctx context.Context, p *domain.PricePoint)
}

// TradeHandler receives validated deduplicated source trades.
type TradeHandler interface {
	HandleTrade(ctx context.Context, e *domain.TradeEvent)
}

// Config holds runner settings.
type Config struct {
	// TrackedWallets restricts which wallets produce entry candidates.
	// Empty means every observed wallet is a candidate source.
	TrackedWallets []string

	// ArchiveBatchSize flushes the tick archive batch at this size.
	ArchiveBatchSize int
	// ArchiveFlushInterval flushes a partial batch after this long.
	ArchiveFlushInterval time.Duration
}

// DefaultConfig returns runner settings tuned for a live feed.
func DefaultConfig() Config {
	return Config{
		ArchiveBatchSize:     200,
		ArchiveFlushInterval: 5 * time.Second,
	}
}

// Runner wires the feeds into the tracker, the stores, and the engine.
type Runner struct {
	cfg     Config
	tracker *cycles.Tracker

	hot        storage.PricePointStore
	archive    storage.PricePointStore // nil disables archiving
	cycleStore storage.CycleStore
	tradeStore storage.TradeEventStore

	ticks   TickHandler
	trades  TradeHandler
	wallets map[string]struct{}

	log     zerolog.Logger
	metrics *observability.Metrics

	batch []*domain.PricePoint
}

// NewRunner creates an ingestion runner. Tracked wallet addresses are
// validated up front so a typo fails startup, not silently at runtime.
func NewRunner(
	cfg Config,
	tracker *cycles.Tracker,
	hot storage.PricePointStore,
	archive storage.PricePointStore,
	cycleStore storage.CycleStore,
	tradeStore storage.TradeEventStore,
	ticks TickHandler,
	trades TradeHandler,
	log zerolog.Logger,
	metrics *observability.Metrics,
) (*Runner, error) {
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = DefaultConfig().ArchiveBatchSize
	}
	if cfg.ArchiveFlushInterval <= 0 {
		cfg.ArchiveFlushInterval = DefaultConfig().ArchiveFlushInterval
	}

	wallets := make(map[string]struct{}, len(cfg.TrackedWallets))
	for _, w := range cfg.TrackedWallets {
		if err := ValidateWalletAddress(w); err != nil {
			return nil, err
		}
		wallets[w] = struct{}{}
	}

	return &Runner{
		cfg:        cfg,
		tracker:    tracker,
		hot:        hot,
		archive:    archive,
		cycleStore: cycleStore,
		tradeStore: tradeStore,
		ticks:      ticks,
		trades:     trades,
		wallets:    wallets,
		log:        log,
		metrics:    metrics,
	}, nil
}

// Run consumes both feeds until the context ends or both channels close.
func (r *Runner) Run(ctx context.Context, tickCh <-chan *domain.PricePoint, tradeCh <-chan *domain.TradeEvent) error {
	flush := time.NewTicker(r.cfg.ArchiveFlushInterval)
	defer flush.Stop()
	defer r.flushArchive(context.WithoutCancel(ctx))

	for tickCh != nil || tradeCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			r.onTick(ctx, p)
		case e, ok := <-tradeCh:
			if !ok {
				tradeCh = nil
				continue
			}
			r.onTrade(ctx, e)
		case <-flush.C:
			r.flushArchive(ctx)
		}
	}
	return nil
}

// onTick advances the cycle tracker, persists, and forwards the tick.
// A stale tick is excluded from cycle tracking and never reaches the engine,
// but the raw series still records it: rejection governs ordering-sensitive
// consumers, not the archive of what was observed.
func (r *Runner) onTick(ctx context.Context, p *domain.PricePoint) {
	stale := false
	transitions, err := r.tracker.Observe(p.Instrument, p.Price, p.TimestampMs)
	switch {
	case errors.Is(err, cycles.ErrOutOfOrder):
		stale = true
		r.metrics.TicksRejected.WithLabelValues("out_of_order").Inc()
		r.log.Warn().Str("instrument", p.Instrument).Int64("timestamp_ms", p.TimestampMs).
			Msg("stale tick excluded from cycle tracking")
	case err != nil:
		r.metrics.TicksRejected.WithLabelValues("invalid").Inc()
		r.log.Error().Err(err).Str("instrument", p.Instrument).Msg("tick rejected")
		return
	}

	if !stale {
		r.metrics.TicksProcessed.Inc()
		r.metrics.LastTickTimestamp.Set(float64(p.TimestampMs) / 1000)

		for _, tr := range transitions {
			switch tr.Kind {
			case domain.TransitionOpen:
				r.metrics.CyclesOpened.Inc()
			case domain.TransitionClose:
				r.metrics.CyclesClosed.Inc()
				if err := r.cycleStore.Insert(ctx, tr.Cycle); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
					r.metrics.PersistenceFailures.WithLabelValues("cycle").Inc()
					r.log.Error().Err(err).Str("cycle_id", tr.Cycle.CycleID).Msg("failed to persist closed cycle")
				}
			}
		}
	}

	if err := r.hot.InsertBulk(ctx, []*domain.PricePoint{p}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.metrics.PersistenceFailures.WithLabelValues("tick_hot").Inc()
		r.log.Error().Err(err).Msg("failed to store tick in hot window")
	}

	if r.archive != nil {
		r.batch = append(r.batch, p)
		if len(r.batch) >= r.cfg.ArchiveBatchSize {
			r.flushArchive(ctx)
		}
	}

	if !stale && r.ticks != nil {
		r.ticks.HandleTick(ctx, p)
	}
}

// onTrade validates and dedupes a source trade, then forwards it.
func (r *Runner) onTrade(ctx context.Context, e *domain.TradeEvent) {
	if len(r.wallets) > 0 {
		if _, tracked := r.wallets[e.Wallet]; !tracked {
			r.metrics.TradeEventsRejected.WithLabelValues("untracked_wallet").Inc()
			return
		}
	} else if err := ValidateWalletAddress(e.Wallet); err != nil {
		r.metrics.TradeEventsRejected.WithLabelValues("invalid_wallet").Inc()
		r.log.Warn().Err(err).Str("signature", e.Signature).Msg("dropping trade with invalid wallet")
		return
	}

	if err := r.tradeStore.Insert(ctx, e); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			r.metrics.TradeEventsRejected.WithLabelValues("duplicate_signature").Inc()
			return
		}
		r.metrics.PersistenceFailures.WithLabelValues("trade_event").Inc()
		r.log.Error().Err(err).Str("signature", e.Signature).Msg("failed to persist trade event")
		// Decisions still flow on persistence trouble.
	}

	r.metrics.TradeEventsProcessed.Inc()
	if r.trades != nil {
		r.trades.HandleTrade(ctx, e)
	}
}

// flushArchive sends the pending batch to the archive store.
func (r *Runner) flushArchive(ctx context.Context) {
	if r.archive == nil || len(r.batch) == 0 {
		return
	}

	if err := r.archive.InsertBulk(ctx, r.batch); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.metrics.PersistenceRetries.WithLabelValues("tick_archive").Inc()
		r.log.Warn().Err(err).Int("batch", len(r.batch)).Msg("archive flush failed, batch retained for retry")
		return
	}
	r.batch = r.batch[:0]
}
