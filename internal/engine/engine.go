// Package engine orchestrates the decision core: source trades run the
// entry pipeline (circuit breaker, filter projects, continuation gate) and
// open positions; price ticks drive trailing-stop evaluation on a fixed
// cadence. Persistence is asynchronous and never blocks or rolls back a
// decision that was already made in memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/filters"
	"copytrade-engine/internal/gate"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
	"copytrade-engine/internal/trailing"
)

// ErrPositionNotOpen is returned by ManualClose for unknown or already
// resolved positions.
var ErrPositionNotOpen = errors.New("position is not open")

// Candidate rejection stages, used as metric labels and log fields.
const (
	StageNotEntry  = "not_entry_signal"
	StageBreaker   = "breaker_tripped"
	StageFeatures  = "feature_lookup_failed"
	StageFilters   = "filters_failed"
	StageNoPrice   = "no_entry_price"
	StageDuplicate = "duplicate_candidate"
)

// FeatureProvider supplies the bucketed feature vector a candidate signal is
// evaluated against. Missing buckets are expressed as absent keys, not zeros.
type FeatureProvider interface {
	Features(ctx context.Context, instrument, wallet string, atMs int64) (domain.FeatureVector, error)
}

// PositionCache mirrors open position state for fast restarts. Cache writes
// are best-effort; the durable store is the source of truth.
type PositionCache interface {
	Save(ctx context.Context, p *domain.Position) error
	Delete(ctx context.Context, positionID string)
}

// Config holds engine settings.
type Config struct {
	// PlayID identifies the configuration under which positions are opened.
	PlayID string
	// ToleranceRules are attached to every position at entry.
	ToleranceRules domain.ToleranceRules
	// EvalInterval is the trailing-stop evaluation cadence.
	EvalInterval time.Duration
	// PersistQueueSize bounds the async write queue.
	PersistQueueSize int
	// PersistRetries is how many times a failed write is retried before the
	// row is dropped and counted.
	PersistRetries int
	// PersistBackoff is the delay between write retries.
	PersistBackoff time.Duration
}

// DefaultConfig returns engine settings for a live deployment.
func DefaultConfig() Config {
	return Config{
		PlayID:           "default",
		EvalInterval:     1 * time.Second,
		PersistQueueSize: 4096,
		PersistRetries:   3,
		PersistBackoff:   250 * time.Millisecond,
	}
}

// Engine is the decision orchestrator. It implements the ingestion tick and
// trade handler interfaces.
type Engine struct {
	cfg Config

	breaker      *breaker.CircuitBreaker
	filterEngine *filters.Engine
	filterConfig *filters.ConfigStore
	gate         *gate.Gate
	trailing     *trailing.Manager
	features     FeatureProvider

	positions    storage.PositionStore
	checks       storage.PriceCheckStore
	breakerStore storage.BreakerStateStore
	cache        PositionCache // nil disables caching

	writer  *persister
	log     zerolog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	open      map[string]*domain.Position
	lastPrice map[string]*domain.PricePoint
}

// New creates an engine. The tolerance rules are validated up front so a
// broken band configuration fails startup instead of the first exit.
func New(
	cfg Config,
	cb *breaker.CircuitBreaker,
	filterConfig *filters.ConfigStore,
	g *gate.Gate,
	features FeatureProvider,
	positions storage.PositionStore,
	checks storage.PriceCheckStore,
	breakerStore storage.BreakerStateStore,
	cache PositionCache,
	log zerolog.Logger,
	metrics *observability.Metrics,
) (*Engine, error) {
	if err := cfg.ToleranceRules.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	def := DefaultConfig()
	if cfg.PlayID == "" {
		cfg.PlayID = def.PlayID
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = def.EvalInterval
	}
	if cfg.PersistQueueSize <= 0 {
		cfg.PersistQueueSize = def.PersistQueueSize
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = def.PersistRetries
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = def.PersistBackoff
	}

	return &Engine{
		cfg:          cfg,
		breaker:      cb,
		filterEngine: filters.NewEngine(),
		filterConfig: filterConfig,
		gate:         g,
		trailing:     trailing.NewManager(),
		features:     features,
		positions:    positions,
		checks:       checks,
		breakerStore: breakerStore,
		cache:        cache,
		writer:       newPersister(cfg.PersistQueueSize, cfg.PersistRetries, cfg.PersistBackoff, log, metrics),
		log:          log,
		metrics:      metrics,
		open:         make(map[string]*domain.Position),
		lastPrice:    make(map[string]*domain.PricePoint),
	}, nil
}

// Restore reloads open positions and the breaker window from the durable
// stores, called once before Run after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("restore open positions: %w", err)
	}

	e.mu.Lock()
	for _, p := range open {
		if p.HighestPriceSoFar == 0 {
			p.HighestPriceSoFar = p.EntryPrice
		}
		e.open[p.PositionID] = p
	}
	count := len(e.open)
	e.mu.Unlock()
	e.metrics.PositionsOpen.Set(float64(count))

	state, err := e.breakerStore.Latest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Fresh deployment, breaker starts clear.
	case err != nil:
		return fmt.Errorf("restore breaker state: %w", err)
	default:
		e.breaker.Restore(*state)
		e.publishBreakerMetrics()
	}

	e.log.Info().Int("open_positions", count).Msg("engine state restored")
	return nil
}

// Run drives the evaluation cadence and the async writer until the context
// ends. Queued writes are drained before returning.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.writer.run(ctx)
	}()

	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.EvaluateAt(ctx, time.Now().UnixMilli())
		}
	}
}

// Flush synchronously drains the async write queue. Used by tests and the
// shutdown path.
func (e *Engine) Flush(ctx context.Context) {
	e.writer.flush(ctx)
}

// HandleTick records the latest price per instrument. Trailing evaluation
// runs on the cadence loop, not per tick, so a flood of ticks cannot starve
// the entry pipeline.
func (e *Engine) HandleTick(_ context.Context, p *domain.PricePoint) {
	e.mu.Lock()
	prev := e.lastPrice[p.Instrument]
	if prev == nil || p.TimestampMs >= prev.TimestampMs {
		e.lastPrice[p.Instrument] = p
	}
	e.mu.Unlock()
}

// HandleTrade runs the entry pipeline for one source trade.
func (e *Engine) HandleTrade(ctx context.Context, ev *domain.TradeEvent) {
	if ev.Direction != domain.DirectionBuy {
		return
	}

	e.metrics.CandidatesEvaluated.Inc()

	// Breaker check comes first: while tripped, filter evaluation is never
	// reached and the candidate is counted as a suppression, not a loss.
	if e.breaker.IsTripped() {
		e.breaker.RecordSuppression()
		e.metrics.BreakerSuppressions.Inc()
		e.reject(ev, StageBreaker)
		return
	}

	vector, err := e.features.Features(ctx, ev.Instrument, ev.Wallet, ev.TimestampMs)
	if err != nil {
		e.log.Error().Err(err).Str("signature", ev.Signature).Msg("feature lookup failed")
		e.reject(ev, StageFeatures)
		return
	}

	projects := e.filterConfig.Snapshot()
	vlog := e.filterEngine.Evaluate(vector, projects, ev.TimestampMs)
	if !vlog.Passed {
		e.reject(ev, StageFilters)
		return
	}

	res, err := e.gate.Check(ctx, ev.Instrument, ev.PerpDirection, ev.TimestampMs)
	if err != nil {
		// The gate fails closed; a candidate without a trend sample never
		// enters.
		e.log.Error().Err(err).Str("signature", ev.Signature).Msg("continuation gate errored")
		e.reject(ev, gate.ReasonNoData)
		return
	}
	if !res.Passed {
		e.reject(ev, res.Reason)
		return
	}

	e.openPosition(ctx, ev, vlog)
}

// reject counts and logs a dropped candidate.
func (e *Engine) reject(ev *domain.TradeEvent, stage string) {
	e.metrics.CandidatesRejected.WithLabelValues(stage).Inc()
	e.log.Debug().Str("stage", stage).Str("wallet", ev.Wallet).
		Str("instrument", ev.Instrument).Str("signature", ev.Signature).
		Msg("candidate rejected")
}

// openPosition admits a candidate that cleared every pipeline stage.
func (e *Engine) openPosition(ctx context.Context, ev *domain.TradeEvent, vlog *domain.ValidatorLog) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tick := e.lastPrice[ev.Instrument]
	if tick == nil {
		e.reject(ev, StageNoPrice)
		return
	}

	id := idhash.ComputePositionID(e.cfg.PlayID, ev.Wallet, ev.Instrument, ev.TimestampMs)
	if _, exists := e.open[id]; exists {
		e.reject(ev, StageDuplicate)
		return
	}

	p := &domain.Position{
		PositionID:        id,
		PlayID:            e.cfg.PlayID,
		Source:            ev.Wallet,
		Instrument:        ev.Instrument,
		EntryPrice:        tick.Price,
		EntryTimeMs:       ev.TimestampMs,
		Status:            domain.StatusPending,
		HighestPriceSoFar: tick.Price,
		ToleranceRules:    e.cfg.ToleranceRules,
		ValidatorLog:      vlog,
	}

	e.open[id] = p
	e.metrics.CandidatesAccepted.Inc()
	e.metrics.PositionsOpen.Set(float64(len(e.open)))

	e.persistPosition(p, true)
	if e.cache != nil {
		if err := e.cache.Save(ctx, p); err != nil {
			e.log.Warn().Err(err).Str("position_id", id).Msg("position cache save failed")
		}
	}

	e.log.Info().Str("position_id", id).Str("instrument", ev.Instrument).
		Str("source", ev.Wallet).Float64("entry_price", tick.Price).
		Msg("position opened")
}

// EvaluateAt runs one trailing-stop pass over every open position using the
// latest observed price per instrument. A panic in one position's evaluation
// is contained to that position.
func (e *Engine) EvaluateAt(ctx context.Context, nowMs int64) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.evaluatePosition(ctx, id, nowMs)
	}
}

// evaluatePosition evaluates one open position against its instrument's
// latest price.
func (e *Engine) evaluatePosition(ctx context.Context, positionID string, nowMs int64) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("position_id", positionID).Interface("panic", r).
				Msg("position evaluation panicked, position skipped this pass")
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.open[positionID]
	if !ok {
		return
	}
	tick := e.lastPrice[p.Instrument]
	if tick == nil {
		return
	}

	prevHighest := p.HighestPriceSoFar
	eval, err := e.trailing.OnTick(p, tick.Price, nowMs)
	if err != nil {
		// Already closed; drop it from the live set.
		delete(e.open, positionID)
		e.metrics.PositionsOpen.Set(float64(len(e.open)))
		return
	}

	check := eval.Check
	e.metrics.PriceChecksRecorded.WithLabelValues("live").Inc()
	if eval.Clamped {
		e.log.Warn().Str("position_id", positionID).Float64("gain", check.GainFromEntry).
			Msg("tolerance band gap, clamped to nearest band")
	}
	e.writer.submit("price_check", func(ctx context.Context) error {
		return e.checks.Insert(ctx, &check)
	})

	if eval.ShouldSell {
		e.resolveLocked(ctx, p)
		return
	}

	if p.HighestPriceSoFar != prevHighest {
		e.persistPosition(p, false)
		if e.cache != nil {
			if err := e.cache.Save(ctx, p); err != nil {
				e.log.Warn().Err(err).Str("position_id", positionID).Msg("position cache save failed")
			}
		}
	}
}

// resolveLocked finalizes a position the trailing manager just closed and
// feeds the outcome to the circuit breaker. Caller holds e.mu.
func (e *Engine) resolveLocked(ctx context.Context, p *domain.Position) {
	delete(e.open, p.PositionID)
	e.metrics.PositionsOpen.Set(float64(len(e.open)))
	e.metrics.PositionsClosed.WithLabelValues(string(p.Status)).Inc()

	win := p.Status == domain.StatusSold
	e.breaker.RecordOutcome(win, nowOrExit(p))
	e.publishBreakerMetrics()

	e.persistPosition(p, false)
	state := e.breaker.State()
	e.writer.submit("breaker_state", func(ctx context.Context) error {
		return e.breakerStore.Save(ctx, &state)
	})
	if e.cache != nil {
		e.cache.Delete(ctx, p.PositionID)
	}

	e.log.Info().Str("position_id", p.PositionID).Str("status", string(p.Status)).
		Float64("pnl_pct", derefOrZero(p.ProfitLossPct)).Msg("position resolved")
}

// ManualClose cancels an open position without a realized outcome. Cancelled
// positions never reach the circuit breaker.
func (e *Engine) ManualClose(ctx context.Context, positionID string, nowMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.open[positionID]
	if !ok {
		return ErrPositionNotOpen
	}

	p.Status = domain.StatusCancelled
	exitTime := nowMs
	p.ExitTimeMs = &exitTime
	if tick := e.lastPrice[p.Instrument]; tick != nil {
		exitPrice := tick.Price
		p.ExitPrice = &exitPrice
	}

	delete(e.open, positionID)
	e.metrics.PositionsOpen.Set(float64(len(e.open)))
	e.metrics.PositionsClosed.WithLabelValues(string(domain.StatusCancelled)).Inc()

	cp := *p
	if err := e.positions.Update(ctx, &cp); err != nil {
		return fmt.Errorf("persist manual close of %s: %w", positionID, err)
	}
	if e.cache != nil {
		e.cache.Delete(ctx, positionID)
	}

	e.log.Info().Str("position_id", positionID).Msg("position manually closed")
	return nil
}

// OpenCount returns the number of positions currently being evaluated.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

// persistPosition queues an insert or update of a position snapshot.
func (e *Engine) persistPosition(p *domain.Position, insert bool) {
	cp := *p
	if insert {
		e.writer.submit("position", func(ctx context.Context) error {
			return e.positions.Insert(ctx, &cp)
		})
		return
	}
	e.writer.submit("position", func(ctx context.Context) error {
		return e.positions.Update(ctx, &cp)
	})
}

func (e *Engine) publishBreakerMetrics() {
	state := e.breaker.State()
	e.metrics.BreakerWinRate.Set(state.WinRate)
	if state.Tripped {
		e.metrics.BreakerTripped.Set(1)
	} else {
		e.metrics.BreakerTripped.Set(0)
	}
}

func nowOrExit(p *domain.Position) int64 {
	if p.ExitTimeMs != nil {
		return *p.ExitTimeMs
	}
	return time.Now().UnixMilli()
}

func derefOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// PriceWindow adapts a price point store to the gate's price source.
type PriceWindow struct {
	Store storage.PricePointStore
}

// Recent returns the instrument's ticks within [fromMs, toMs].
func (w PriceWindow) Recent(ctx context.Context, instrument string, fromMs, toMs int64) ([]*domain.PricePoint, error) {
	return w.Store.GetByTimeRange(ctx, instrument, fromMs, toMs)
}
