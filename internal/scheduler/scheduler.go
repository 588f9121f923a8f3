// Package scheduler manages the engine's recurring maintenance jobs: breaker
// state snapshots, hot-to-archive tick sync, cache health probes, and
// operator report generation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"copytrade-engine/internal/breaker"
	"copytrade-engine/internal/reporting"
	"copytrade-engine/internal/storage"
)

// CacheHealth is a pingable cache, probed so a recovered connection re-syncs.
type CacheHealth interface {
	HealthCheck(ctx context.Context) error
}

// Config holds the cron specs (with seconds field) and job parameters.
type Config struct {
	// SnapshotCron persists the breaker window, default every minute.
	SnapshotCron string
	// ArchiveCron syncs the hot tick window into the archive.
	ArchiveCron string
	// ReportCron generates the daily operator report.
	ReportCron string
	// CacheHealthCron probes the position cache.
	CacheHealthCron string

	// Instruments to sync into the archive.
	Instruments []string
	// ArchiveLookback is how far back each archive sync reaches.
	ArchiveLookback time.Duration
	// ReportWindow is how far back each report reaches.
	ReportWindow time.Duration
	// ReportDir receives rendered report files.
	ReportDir string
}

// DefaultConfig returns the standard job cadence.
func DefaultConfig() Config {
	return Config{
		SnapshotCron:    "0 * * * * *",    // every minute
		ArchiveCron:     "0 */5 * * * *",  // every 5 minutes
		ReportCron:      "0 0 6 * * *",    // daily, 06:00
		CacheHealthCron: "*/30 * * * * *", // every 30 seconds
		ArchiveLookback: 10 * time.Minute,
		ReportWindow:    24 * time.Hour,
		ReportDir:       "reports",
	}
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron

	cfg          Config
	breaker      *breaker.CircuitBreaker
	breakerStore storage.BreakerStateStore
	hot          storage.PricePointStore
	archive      storage.PricePointStore // nil disables archive sync
	reports      *reporting.Generator
	cache        CacheHealth // nil disables the probe

	positions     storage.PositionStore
	checks        storage.PriceCheckStore
	checksArchive storage.PriceCheckStore // nil disables trail sync

	ctx context.Context
	log zerolog.Logger
}

// New creates a scheduler.
func New(
	ctx context.Context,
	cfg Config,
	cb *breaker.CircuitBreaker,
	breakerStore storage.BreakerStateStore,
	hot storage.PricePointStore,
	archive storage.PricePointStore,
	reports *reporting.Generator,
	cache CacheHealth,
	log zerolog.Logger,
) *Scheduler {
	def := DefaultConfig()
	if cfg.SnapshotCron == "" {
		cfg.SnapshotCron = def.SnapshotCron
	}
	if cfg.ArchiveCron == "" {
		cfg.ArchiveCron = def.ArchiveCron
	}
	if cfg.ReportCron == "" {
		cfg.ReportCron = def.ReportCron
	}
	if cfg.CacheHealthCron == "" {
		cfg.CacheHealthCron = def.CacheHealthCron
	}
	if cfg.ArchiveLookback <= 0 {
		cfg.ArchiveLookback = def.ArchiveLookback
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = def.ReportWindow
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = def.ReportDir
	}

	return &Scheduler{
		Cron:         cron.New(cron.WithSeconds()),
		cfg:          cfg,
		breaker:      cb,
		breakerStore: breakerStore,
		hot:          hot,
		archive:      archive,
		reports:      reports,
		cache:        cache,
		ctx:          ctx,
		log:          log,
	}
}

// WithCheckArchive enables syncing resolved positions' evaluation trails
// from the durable check store into the archive.
func (s *Scheduler) WithCheckArchive(positions storage.PositionStore, checks, archive storage.PriceCheckStore) *Scheduler {
	s.positions = positions
	s.checks = checks
	s.checksArchive = archive
	return s
}

// RegisterAll registers every configured job.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.Cron.AddFunc(s.cfg.SnapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	if s.archive != nil {
		if _, err := s.Cron.AddFunc(s.cfg.ArchiveCron, s.archiveTask); err != nil {
			return fmt.Errorf("register archive task: %w", err)
		}
	}
	if s.checksArchive != nil {
		if _, err := s.Cron.AddFunc(s.cfg.ArchiveCron, s.checkArchiveTask); err != nil {
			return fmt.Errorf("register check archive task: %w", err)
		}
	}
	if s.reports != nil {
		if _, err := s.Cron.AddFunc(s.cfg.ReportCron, s.reportTask); err != nil {
			return fmt.Errorf("register report task: %w", err)
		}
	}
	if s.cache != nil {
		if _, err := s.Cron.AddFunc(s.cfg.CacheHealthCron, s.cacheHealthTask); err != nil {
			return fmt.Errorf("register cache health task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// snapshotTask persists the breaker's rolling window so a restart resumes
// with the same outcome history.
func (s *Scheduler) snapshotTask() {
	state := s.breaker.State()
	if err := s.breakerStore.Save(s.ctx, &state); err != nil {
		s.log.Error().Err(err).Msg("breaker snapshot failed")
		return
	}
	s.log.Debug().Float64("win_rate", state.WinRate).Bool("tripped", state.Tripped).
		Msg("breaker snapshot saved")
}

// archiveTask copies the recent hot tick window into the archive. The
// archive store rejects duplicates, so re-syncing an already-flushed range
// is harmless and re-syncing after a failed flush fills the hole.
func (s *Scheduler) archiveTask() {
	now := time.Now().UnixMilli()
	from := now - s.cfg.ArchiveLookback.Milliseconds()

	for _, instrument := range s.cfg.Instruments {
		points, err := s.hot.GetByTimeRange(s.ctx, instrument, from, now)
		if err != nil {
			s.log.Error().Err(err).Str("instrument", instrument).Msg("archive sync read failed")
			continue
		}
		if len(points) == 0 {
			continue
		}
		if err := s.archive.InsertBulk(s.ctx, points); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			s.log.Error().Err(err).Str("instrument", instrument).
				Int("points", len(points)).Msg("archive sync write failed")
			continue
		}
		s.log.Debug().Str("instrument", instrument).Int("points", len(points)).
			Msg("archive sync complete")
	}
}

// checkArchiveTask copies the evaluation trails of recently resolved
// positions into the archive. A resolved trail no longer grows live, so
// per-check duplicate rejection makes re-syncing idempotent.
func (s *Scheduler) checkArchiveTask() {
	// Positions are ranged by entry time, so the sync reaches back the full
	// report window; a long-held position would slip past a short lookback.
	now := time.Now().UnixMilli()
	from := now - s.cfg.ReportWindow.Milliseconds()

	resolved, err := s.positions.GetByTimeRange(s.ctx, from, now)
	if err != nil {
		s.log.Error().Err(err).Msg("check archive position read failed")
		return
	}

	var synced int
	for _, p := range resolved {
		if !p.Resolved() {
			continue
		}
		trail, err := s.checks.GetByPositionID(s.ctx, p.PositionID)
		if err != nil {
			s.log.Error().Err(err).Str("position_id", p.PositionID).Msg("check archive read failed")
			continue
		}
		for _, c := range trail {
			if err := s.checksArchive.Insert(s.ctx, c); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					continue
				}
				s.log.Error().Err(err).Str("check_id", c.CheckID).Msg("check archive write failed")
				continue
			}
			synced++
		}
	}
	if synced > 0 {
		s.log.Debug().Int("checks", synced).Msg("check archive sync complete")
	}
}

// reportTask renders the operator report for the trailing window.
func (s *Scheduler) reportTask() {
	now := time.Now()
	if err := s.GenerateReport(now.UnixMilli()-s.cfg.ReportWindow.Milliseconds(), now.UnixMilli()); err != nil {
		s.log.Error().Err(err).Msg("report generation failed")
	}
}

// GenerateReport renders the markdown and CSV reports for [fromMs, toMs]
// into the report directory.
func (s *Scheduler) GenerateReport(fromMs, toMs int64) error {
	r, err := s.reports.Generate(s.ctx, fromMs, toMs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.ReportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	stamp := r.GeneratedAt.Format("20060102_150405")
	mdPath := filepath.Join(s.cfg.ReportDir, fmt.Sprintf("report_%s.md", stamp))
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	csvPath := filepath.Join(s.cfg.ReportDir, fmt.Sprintf("report_%s.csv", stamp))
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(r.Positions)), 0o644); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}

	s.log.Info().Str("markdown", mdPath).Str("csv", csvPath).
		Int("resolved", r.Summary.TotalResolved).Msg("report generated")
	return nil
}

// cacheHealthTask probes the position cache so a recovered Redis connection
// re-syncs its contents.
func (s *Scheduler) cacheHealthTask() {
	if err := s.cache.HealthCheck(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("position cache unhealthy")
	}
}
