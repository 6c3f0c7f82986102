package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// setupDatabase opens a pgx pool from the DB_* environment. Returns nil
// when DB_HOST is unset, which makes the engine fall back to the
// in-memory store for local development.
func setupDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	host := getEnv("DB_HOST", "")
	if host == "" {
		return nil, nil
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		host,
		getEnvAsInt("DB_PORT", 5432),
		getEnv("DB_NAME", "auction"),
		getEnv("DB_SSLMODE", "disable"),
	)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", host).
		Str("database", getEnv("DB_NAME", "auction")).
		Msg("connected to database")
	return pool, nil
}
