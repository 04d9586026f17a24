package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"easyswitch/internal/config"
	"easyswitch/internal/logger"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

func buildDSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, sslMode,
	)
}

// NewDatabase opens and pings the postgres database described by cfg.
func NewDatabase(cfg *config.Config) (*sql.DB, error) {
	return newDatabaseWithDriver(cfg, "postgres")
}

func newDatabaseWithDriver(cfg *config.Config, driver string) (*sql.DB, error) {
	db, err := sql.Open(driver, buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// InitDB is NewDatabase for start-up code; it exits the process on error.
func InitDB(cfg *config.Config) *sql.DB {
	db, err := NewDatabase(cfg)
	if err != nil {
		logger.L().Fatal("database unavailable", zap.Error(err))
	}
	logger.L().Info("database connection established", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))
	return db
}
