package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/models"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	config, err := loadConfig(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	if pool != nil {
		defer pool.Close()
	}

	services, err := setupServices(ctx, config, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	defer services.Publisher.Close()

	if getEnv("SEED_DEMO_DATA", "") == "true" {
		seedDemoData(services.Store)
	}

	go services.Gateway.Start(ctx)
	go func() {
		if err := services.Session.Run(ctx); err != nil {
			log.Error().Err(err).Msg("auction session failed")
		}
	}()

	server := setupServer(services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("auction engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	cancel()

	// Give the session and gateway time to drain
	time.Sleep(2 * time.Second)

	log.Info().Msg("auction engine shutdown complete")
}

// seedDemoData loads a handful of players and teams for local runs
// against the in-memory store.
func seedDemoData(st store.Store) {
	mem, ok := st.(*store.Memory)
	if !ok {
		log.Warn().Msg("SEED_DEMO_DATA only applies to the in-memory store")
		return
	}

	teams := []string{"Thunder", "Raptors", "Titans"}
	for _, name := range teams {
		mem.AddTeam(&models.Team{
			ID:          uuid.New(),
			Name:        name,
			BudgetTotal: 100000,
		})
	}

	players := []struct {
		name string
		role string
	}{
		{"Aiden Cole", "batter"},
		{"Marco Reyes", "bowler"},
		{"Jin Park", "all-rounder"},
		{"Lucas Webb", "keeper"},
	}
	for _, p := range players {
		mem.AddPlayer(&models.Player{
			ID:        uuid.New(),
			Name:      p.name,
			Role:      p.role,
			BasePrice: 1000,
			Increment: 100,
		})
	}

	log.Info().
		Int("teams", len(teams)).
		Int("players", len(players)).
		Msg("demo data seeded")
}
