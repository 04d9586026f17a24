package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"easyswitch/internal/config"
	"easyswitch/internal/db"
	"easyswitch/internal/logger"

	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up or down")
	dir := flag.String("dir", "./migrations", "directory holding the *.sql migrations")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.L().Fatal("failed to load config", zap.Error(err))
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database, err := db.NewDatabase(cfg)
	if err != nil {
		logger.L().Fatal("failed to connect db", zap.Error(err))
	}
	defer database.Close()

	if err := run(database, *mode, *dir); err != nil {
		logger.L().Fatal("migration failed", zap.String("mode", *mode), zap.Error(err))
	}
}

func run(db *sql.DB, mode, migrationsDir string) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	// File names start with a zero-padded sequence number.
	sort.Strings(files)

	switch mode {
	case "up":
		return runMigrationsUp(db, files)
	case "down":
		return runMigrationsDown(db, files)
	default:
		return fmt.Errorf("unknown mode: %s (use 'up' or 'down')", mode)
	}
}

func runMigrationsUp(db *sql.DB, files []string) error {
	log := logger.L()
	applied := 0
	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			log.Debug("skipping applied migration", zap.String("version", version))
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		upSQL := extractMigrationPart(string(content), "Up")
		log.Info("applying migration", zap.String("version", version))

		err = inTx(db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(upSQL); err != nil {
				return fmt.Errorf("migration %s failed: %w", version, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return fmt.Errorf("failed to record migration version: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		applied++
	}
	log.Info("migrations up to date", zap.Int("applied", applied))
	return nil
}

func runMigrationsDown(db *sql.DB, files []string) error {
	log := logger.L()

	var lastVersion string
	err := db.QueryRow(`SELECT version FROM schema_migrations ORDER BY applied_at DESC, version DESC LIMIT 1`).Scan(&lastVersion)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get last applied migration: %w", err)
	}

	filePath := ""
	for _, f := range files {
		if filepath.Base(f) == lastVersion {
			filePath = f
			break
		}
	}
	if filePath == "" {
		return fmt.Errorf("migration file not found for version: %s", lastVersion)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	downSQL := extractMigrationPart(string(content), "Down")
	log.Info("rolling back migration", zap.String("version", lastVersion))

	return inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(downSQL); err != nil {
			return fmt.Errorf("rollback %s failed: %w", lastVersion, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, lastVersion); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		return nil
	})
}

// inTx runs fn in a transaction so a migration and its version record are
// applied together.
func inTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// extractMigrationPart returns the statements between "-- +migrate section"
// and the next marker.
func extractMigrationPart(content string, section string) string {
	lines := strings.Split(content, "\n")
	var part strings.Builder
	var inPart bool

	for _, line := range lines {
		if strings.Contains(line, "-- +migrate "+section) {
			inPart = true
			continue
		}
		if inPart && strings.HasPrefix(line, "-- +migrate") {
			break
		}
		if inPart {
			part.WriteString(line + "\n")
		}
	}
	return part.String()
}
