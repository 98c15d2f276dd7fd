package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iliyamo/eventapp/internal/config"
	"github.com/iliyamo/eventapp/internal/database"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
)

var seedPath string

var seedRolesCmd = &cobra.Command{
	Use:   "seed-roles",
	Short: "Load the role catalog CSV into an empty roles table",
	Long: `seed-roles migrates the global database and inserts the roles of the seed
CSV when the roles table is empty. A table that already has rows is left
untouched, so running it twice is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := config.NewLogger(cfg.LogLevel, cfg.LogPretty)
		if seedPath != "" {
			cfg.RoleSeedPath = seedPath
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		db, err := openGlobal(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = loadCatalog(ctx, db, cfg.RoleSeedPath, logger)
		return err
	},
}

func init() {
	seedRolesCmd.Flags().StringVar(&seedPath, "file", "", "seed CSV (default: $ROLE_SEED_PATH or data/roles.csv)")
}

// openGlobal migrates and opens the global database.
func openGlobal(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	dsn := database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err := database.MigrateGlobal(dsn); err != nil {
		return nil, fmt.Errorf("migrate global database: %w", err)
	}
	db, err := database.Open(ctx, dsn, database.GlobalPool)
	if err != nil {
		return nil, fmt.Errorf("open global database: %w", err)
	}
	return db, nil
}

// loadCatalog seeds an empty roles table from path, then builds the catalog
// from what the table holds. An invalid catalog is an error.
func loadCatalog(ctx context.Context, db *sql.DB, path string, logger zerolog.Logger) (*rbac.Catalog, error) {
	roles := repository.NewRoleRepo(db)

	n, err := roles.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count roles: %w", err)
	}
	if n == 0 {
		seed, err := rbac.ReadSeedFile(path)
		if err != nil {
			return nil, err
		}
		// validate before writing anything
		if _, err := rbac.NewCatalog(seed); err != nil {
			return nil, fmt.Errorf("seed %s: %w", path, err)
		}
		inserted, err := roles.SeedIfEmpty(ctx, seed)
		if err != nil {
			return nil, fmt.Errorf("seed roles: %w", err)
		}
		if inserted {
			logger.Info().Str("file", path).Int("roles", len(seed)).Msg("role catalog seeded")
		}
	}

	list, err := roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	catalog, err := rbac.NewCatalog(list)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("roles", len(list)).Strs("scopes", catalog.Scopes()).Msg("role catalog loaded")
	return catalog, nil
}
