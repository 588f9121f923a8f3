// Command engine runs the unified copytrade decision engine:
//   - WebSocket feed client consuming price ticks and source wallet trades
//   - ingestion runner feeding the cycle tracker and the raw stores
//   - decision engine (breaker, filters, continuation gate, trailing stops)
//   - cron scheduler for breaker snapshots, archive sync, and reports
//   - HTTP server exposing /metrics, /status, and /positions
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/config"
	"copytrade-engine/internal/cycles"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/engine"
	"copytrade-engine/internal/features"
	"copytrade-engine/internal/feed"
	"copytrade-engine/internal/filters"
	"copytrade-engine/internal/gate"
	"copytrade-engine/internal/ingestion"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/queries"
	"copytrade-engine/internal/reporting"
	"copytrade-engine/internal/scheduler"
	"copytrade-engine/internal/storage"
	chstore "copytrade-engine/internal/storage/clickhouse"
	"copytrade-engine/internal/storage/memory"
	"copytrade-engine/internal/storage/migrations"
	pgstore "copytrade-engine/internal/storage/postgres"
	redisstore "copytrade-engine/internal/storage/redis"
)

// allStores bundles every store the engine wires together. The hot tick
// window is always in-memory; everything else is durable unless -use-memory
// is set.
type allStores struct {
	hot           storage.PricePointStore
	archive       storage.PricePointStore // nil without ClickHouse
	checksArchive storage.PriceCheckStore // nil without ClickHouse

	cycleStore   storage.CycleStore
	positions    storage.PositionStore
	checks       storage.PriceCheckStore
	trades       storage.TradeEventStore
	breakerStore storage.BreakerStateStore
	filterStore  storage.FilterProjectStore
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (no Postgres/ClickHouse)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()

	if *configPath == "" {
		*configPath = "config.yaml"
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if !*useMemory && cfg.Storage.PostgresDSN == "" {
		log.Fatal().Msg("storage.postgres_dsn is required (or pass -use-memory)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, *useMemory, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stores")
	}
	defer cleanup()

	metrics := observability.NewMetrics("")

	// Breaker and filter config, restored from the durable stores.
	cb := breaker.New(cfg.Breaker.WindowSize, cfg.Breaker.TripThreshold)
	filterConfig := filters.NewConfigStore()
	projects, err := stores.filterStore.GetAll(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Fatal().Err(err).Msg("failed to load filter projects")
	}
	if err := filterConfig.Replace(projects); err != nil {
		log.Fatal().Err(err).Msg("stored filter configuration is invalid")
	}
	log.Info().Int("projects", len(projects)).Msg("filter configuration loaded")

	g := gate.New(gate.Config{
		Tier:           gate.Tier(cfg.Gate.Tier),
		PerpMode:       domain.PerpMode(cfg.Gate.PerpMode),
		HorizonMs:      cfg.Gate.HorizonMs,
		CrashThreshold: cfg.Gate.CrashThreshold,
		ChaseCap:       cfg.Gate.ChaseCap,
	}, engine.PriceWindow{Store: stores.hot})

	provider := features.NewProvider(stores.hot, stores.trades)

	var cache *redisstore.PositionCache
	if cfg.Storage.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Storage.RedisAddr})
		cache = redisstore.NewPositionCache(client, log.With().Str("component", "cache").Logger())
	}

	var engineCache engine.PositionCache
	if cache != nil {
		engineCache = cache
	}
	eng, err := engine.New(engine.Config{
		PlayID:         cfg.Engine.PlayID,
		ToleranceRules: cfg.Engine.Tolerance.Rules(),
		EvalInterval:   cfg.EvalInterval(),
	}, cb, filterConfig, g, provider,
		stores.positions, stores.checks, stores.breakerStore, engineCache,
		log.With().Str("component", "engine").Logger(), metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}
	if err := eng.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore engine state")
	}

	tracker := cycles.New(cfg.Cycles.Thresholds, cfg.Cycles.StabilityFactor)
	runner, err := ingestion.NewRunner(
		ingestion.Config{TrackedWallets: cfg.Feed.Wallets},
		tracker, stores.hot, stores.archive, stores.cycleStore, stores.trades,
		eng, eng,
		log.With().Str("component", "ingestion").Logger(), metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ingestion runner")
	}

	client, err := feed.NewClient(ctx, feed.Config{
		Endpoint:    cfg.Feed.Endpoint,
		Instruments: cfg.Feed.Instruments,
		Wallets:     cfg.Feed.Wallets,
	}, log.With().Str("component", "feed").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to feed gateway")
	}

	querySvc := queries.NewService(stores.cycleStore, stores.positions, stores.checks, cb)
	reports := reporting.NewGenerator(querySvc)

	var cacheHealth scheduler.CacheHealth
	if cache != nil {
		cacheHealth = cache
	}
	sched := scheduler.New(ctx, scheduler.Config{
		SnapshotCron:    cfg.Schedule.SnapshotCron,
		ArchiveCron:     cfg.Schedule.ArchiveCron,
		ReportCron:      cfg.Schedule.ReportCron,
		CacheHealthCron: cfg.Schedule.CacheHealthCron,
		Instruments:     cfg.Feed.Instruments,
		ReportDir:       cfg.Schedule.ReportDir,
	}, cb, stores.breakerStore, stores.hot, stores.archive, reports, cacheHealth,
		log.With().Str("component", "scheduler").Logger())
	if stores.checksArchive != nil {
		sched.WithCheckArchive(stores.positions, stores.checks, stores.checksArchive)
	}
	if err := sched.RegisterAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}
	sched.Start()

	httpServer := newHTTPServer(cfg.Server.ListenAddr, querySvc, log)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go trackUptime(ctx, metrics)

	errCh := make(chan error, 2)
	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()
	go func() {
		if err := runner.Run(ctx, client.Ticks(), client.Trades()); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("ingestion: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	// Second signal forces exit; otherwise drain within the grace period.
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn().Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	cancel()
	client.Close()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown failed")
	}
	eng.Flush(shutdownCtx)

	log.Info().Msg("shutdown complete")
}

// createStores builds the store set. Durable mode applies the embedded
// migrations before handing out stores.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool, log zerolog.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			hot:          memory.NewPricePointStore(),
			cycleStore:   memory.NewCycleStore(),
			positions:    memory.NewPositionStore(),
			checks:       memory.NewPriceCheckStore(),
			trades:       memory.NewTradeEventStore(),
			breakerStore: memory.NewBreakerStateStore(),
			filterStore:  memory.NewFilterProjectStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &allStores{
		hot:          memory.NewPricePointStore(),
		cycleStore:   pgstore.NewCycleStore(pool),
		positions:    pgstore.NewPositionStore(pool),
		checks:       pgstore.NewPriceCheckStore(pool),
		trades:       pgstore.NewTradeEventStore(pool),
		breakerStore: pgstore.NewBreakerStateStore(pool),
		filterStore:  pgstore.NewFilterProjectStore(pool),
	}

	cleanup := pool.Close
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.archive = chstore.NewPricePointStore(conn)
		stores.checksArchive = chstore.NewPriceCheckStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	} else {
		log.Warn().Msg("no clickhouse dsn configured, tick archive disabled")
	}

	return stores, cleanup, nil
}

// trackUptime increments the uptime counter once per second.
func trackUptime(ctx context.Context, metrics *observability.Metrics) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UptimeSeconds.Inc()
		}
	}
}

// newHTTPServer exposes metrics and the read-only status surface.
func newHTTPServer(addr string, q *queries.Service, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		open, err := q.OpenPositions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, map[string]interface{}{
			"open_positions": len(open),
			"breaker":        q.BreakerStatus(),
		})
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id != "" {
			detail, err := q.PositionDetail(r.Context(), id)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "position not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, log, detail)
			return
		}

		open, err := q.OpenPositions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, open)
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
