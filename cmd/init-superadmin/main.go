package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/pmr/pmr-api/config"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// Catalog of administrative units created on first setup.
var administrativeUnits = []string{
	"Subsecretaría de Planeación Económica",
	"Subsecretaría de Fomento Económico",
	"Subsecretaría de Gestión de Inversión",
	"Subsecretaría de Industrias Creativas",
}

func main() {
	cfg, err := config.Load(viper.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, zapLogger, err := log.New(cfg.Server.Mode, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()

	db, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("failed to apply schema", "error", err)
	}

	authRepo := auth.NewRepository(db)
	if err := auth.SeedRoles(ctx, authRepo); err != nil {
		logger.Fatal("failed to seed roles", "error", err)
	}
	logger.Info("roles and permissions seeded", "roles", len(auth.DefaultRoles))

	created, err := seedAdministrativeUnits(ctx, db)
	if err != nil {
		logger.Fatal("failed to seed administrative units", "error", err)
	}
	logger.Info("administrative units seeded", "created", created)

	admin := auth.SuperAdmin{
		Name:     envOr("SUPER_ADMIN_NAME", "Super Admin PMR"),
		Email:    envOr("SUPER_ADMIN_EMAIL", "admin@pmr.com"),
		Password: envOr("SUPER_ADMIN_PASSWORD", "admin123456"),
		RFC:      envOr("SUPER_ADMIN_RFC", "PMR850101000"),
	}
	user, isNew, err := auth.SeedSuperAdmin(ctx, authRepo, admin)
	if err != nil {
		logger.Fatal("failed to seed super admin", "error", err)
	}
	if !isNew {
		fmt.Printf("Super admin user '%s' already exists\n", user.Email)
		return
	}
	fmt.Printf("Successfully created super admin user: %s (RFC %s)\n", user.Email, user.RFC)
}

// seedAdministrativeUnits inserts the missing catalog entries and reports how
// many were created.
func seedAdministrativeUnits(ctx context.Context, db *postgres.Client) (int, error) {
	created := 0
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, name := range administrativeUnits {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO unidades_administrativas (nombre) VALUES ($1) ON CONFLICT (nombre) DO NOTHING`, name)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created++
			}
		}
		return nil
	})
	return created, err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
