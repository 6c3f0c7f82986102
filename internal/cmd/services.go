package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/publish"
	"github.com/auctionhouse/engine/internal/auction/session"
	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/gateway"
	"github.com/auctionhouse/engine/internal/httpapi"
)

// Services holds the wired engine components.
type Services struct {
	Store     store.Store
	Gateway   *gateway.ConnectionManager
	WSHandler *gateway.WebSocketHandler
	Session   *session.Session
	API       *httpapi.Handler
	Publisher publisherCloser
}

// publisherCloser is a session publisher the process can shut down.
type publisherCloser interface {
	session.Publisher
	Close() error
}

func setupServices(ctx context.Context, config *Config, pool *pgxpool.Pool) (*Services, error) {
	// Store layer: Postgres when configured, in-memory otherwise.
	var st store.Store
	if pool != nil {
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		st = pg
	} else {
		log.Warn().Msg("no database configured, using in-memory store")
		st = store.NewMemory()
	}

	// Gateway: websocket fan-out for every auction event.
	cm := gateway.NewConnectionManager(config.gatewayConfig())
	wsHandler := gateway.NewWebSocketHandler(cm)

	// Event mirror: JetStream when configured, no-op otherwise.
	var pub publisherCloser
	natsURL := getEnv("NATS_URL", config.NATS.URL)
	if natsURL != "" {
		jsCfg := publish.DefaultJetStreamConfig()
		jsCfg.URL = natsURL
		if config.NATS.StreamName != "" {
			jsCfg.StreamName = config.NATS.StreamName
		}
		jsPub, err := publish.NewJetStreamPublisher(jsCfg)
		if err != nil {
			return nil, fmt.Errorf("setup JetStream publisher: %w", err)
		}
		pub = jsPub
	} else {
		log.Info().Msg("no NATS URL configured, event mirror disabled")
		pub = publish.Nop{}
	}

	// Session: the single-writer actor that owns auction state.
	sess := session.New(config.sessionConfig(), st, clockwork.NewRealClock(), cm, pub)

	api := httpapi.NewHandler(sess, st)

	return &Services{
		Store:     st,
		Gateway:   cm,
		WSHandler: wsHandler,
		Session:   sess,
		API:       api,
		Publisher: pub,
	}, nil
}
