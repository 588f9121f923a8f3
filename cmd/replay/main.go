// Command replay re-runs the trailing-stop decision function over stored
// positions and verifies that the persisted evaluation trail and exit fields
// are reproduced exactly. Exits non-zero when any position diverges, so the
// check can run in CI or as a post-incident audit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/replay"
	pgstore "copytrade-engine/internal/storage/postgres"
)

func main() {
	positionID := flag.String("position-id", "", "Verify a single position")
	fromTime := flag.String("from-time", "", "Range start (RFC3339), default 24h ago")
	toTime := flag.String("to-time", "", "Range end (RFC3339), default now")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outputJSON := flag.Bool("json", false, "Output the report as JSON")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if *postgresDSN == "" {
		log.Fatal().Msg("--postgres-dsn (or POSTGRES_DSN) is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	verifier := replay.NewVerifier(pgstore.NewPositionStore(pool), pgstore.NewPriceCheckStore(pool))

	report, err := runVerification(ctx, verifier, *positionID, *fromTime, *toTime)
	if err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal().Err(err).Msg("failed to encode report")
		}
	} else {
		printReport(report)
	}

	if report.DivergentPositions > 0 {
		os.Exit(1)
	}
}

// runVerification verifies either one position or every position entered in
// the requested range.
func runVerification(ctx context.Context, v *replay.Verifier, positionID, fromTime, toTime string) (*replay.Report, error) {
	if positionID != "" {
		result, err := v.VerifyPosition(ctx, positionID)
		if err != nil {
			return nil, err
		}
		report := &replay.Report{
			TotalPositions: 1,
			Results:        []replay.PositionResult{*result},
		}
		if result.Match {
			report.MatchedPositions = 1
		} else {
			report.DivergentPositions = 1
		}
		return report, nil
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if fromTime != "" {
		t, err := time.Parse(time.RFC3339, fromTime)
		if err != nil {
			return nil, fmt.Errorf("parse from-time: %w", err)
		}
		from = t
	}
	if toTime != "" {
		t, err := time.Parse(time.RFC3339, toTime)
		if err != nil {
			return nil, fmt.Errorf("parse to-time: %w", err)
		}
		to = t
	}

	return v.VerifyRange(ctx, from.UnixMilli(), to.UnixMilli())
}

func printReport(r *replay.Report) {
	fmt.Printf("verified %d positions: %d matched, %d divergent\n",
		r.TotalPositions, r.MatchedPositions, r.DivergentPositions)

	for _, res := range r.Results {
		if res.Match {
			continue
		}
		fmt.Printf("\nposition %s (status %s, %d live checks):\n",
			res.PositionID, res.Status, res.LiveChecks)
		for _, d := range res.Divergences {
			if d.CheckID != "" {
				fmt.Printf("  check %s field %s: stored %v, replayed %v\n",
					d.CheckID, d.Field, d.Expected, d.Actual)
			} else {
				fmt.Printf("  field %s: stored %v, replayed %v\n",
					d.Field, d.Expected, d.Actual)
			}
		}
	}
}
