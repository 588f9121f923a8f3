package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"copytrade-engine/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded schema files in order. Every
// file uses IF NOT EXISTS forms, so reapplying on startup is safe.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
