package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auctionhouse/engine/internal/models"
)

// Postgres is the production Store backed by pgx. Settlement, undo and
// reset span multiple rows and run inside a single transaction so a
// failed command never leaves partial state.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id                   UUID PRIMARY KEY,
	name                 TEXT NOT NULL,
	role                 TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'available',
	base_price           BIGINT NOT NULL,
	increment            BIGINT NOT NULL,
	current_highest_bid  BIGINT NOT NULL DEFAULT 0,
	current_highest_team UUID,
	final_bid            BIGINT,
	final_team           UUID,
	sold_at              TIMESTAMPTZ,
	auction_round        INT NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Backstop for the single-live invariant; the session enforces it first.
CREATE UNIQUE INDEX IF NOT EXISTS players_one_live
	ON players ((status)) WHERE status = 'live';

CREATE TABLE IF NOT EXISTS teams (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	budget_total BIGINT NOT NULL,
	budget_spent BIGINT NOT NULL DEFAULT 0,
	roster_count INT NOT NULL DEFAULT 0,
	blocked      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (budget_spent <= budget_total)
);

CREATE TABLE IF NOT EXISTS bids (
	id         UUID PRIMARY KEY,
	player_id  UUID NOT NULL REFERENCES players (id),
	team_id    UUID NOT NULL REFERENCES teams (id),
	amount     BIGINT NOT NULL,
	is_winning BOOLEAN NOT NULL DEFAULT FALSE,
	placed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS bids_player_placed ON bids (player_id, placed_at DESC);
`

// Migrate creates the schema if it does not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate auction schema: %w", err)
	}
	return nil
}

const playerColumns = `id, name, role, status, base_price, increment,
	current_highest_bid, current_highest_team, final_bid, final_team,
	sold_at, auction_round, created_at`

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Status, &p.BasePrice,
		&p.Increment, &p.CurrentHighestBid, &p.CurrentHighestTeam,
		&p.FinalBid, &p.FinalTeam, &p.SoldAt, &p.AuctionRound, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	return &p, nil
}

func (s *Postgres) Player(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return scanPlayer(row)
}

func (s *Postgres) Team(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var t models.Team
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, budget_total, budget_spent, roster_count, blocked, created_at
		 FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.BudgetTotal, &t.BudgetSpent, &t.RosterCount,
			&t.Blocked, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return &t, nil
}

func (s *Postgres) LivePlayer(ctx context.Context) (*models.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE status = 'live'`)
	return scanPlayer(row)
}

func (s *Postgres) SetPlayerLive(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE players
		 SET status = 'live', current_highest_bid = 0, current_highest_team = NULL
		 WHERE id = $1
		 RETURNING `+playerColumns, id)
	return scanPlayer(row)
}

func (s *Postgres) RecordBid(ctx context.Context, bid *models.Bid) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bids (id, player_id, team_id, amount, placed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			bid.ID, bid.PlayerID, bid.TeamID, bid.Amount, bid.PlacedAt); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE players
			 SET current_highest_bid = $2, current_highest_team = $3
			 WHERE id = $1`,
			bid.PlayerID, bid.Amount, bid.TeamID); err != nil {
			return fmt.Errorf("update highest bid: %w", err)
		}
		return nil
	})
}

func (s *Postgres) ApplySale(ctx context.Context, sale Sale) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE players
			 SET status = 'sold', final_bid = $2, final_team = $3, sold_at = $4
			 WHERE id = $1`,
			sale.PlayerID, sale.Amount, sale.TeamID, sale.SoldAt); err != nil {
			return fmt.Errorf("mark player sold: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE teams
			 SET budget_spent = budget_spent + $2, roster_count = roster_count + 1
			 WHERE id = $1`,
			sale.TeamID, sale.Amount); err != nil {
			return fmt.Errorf("debit team: %w", err)
		}
		if err := markWinningBidTx(ctx, tx, sale.PlayerID, true); err != nil {
			return err
		}
		return nil
	})
}

func (s *Postgres) ApplyUnsold(ctx context.Context, playerID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE players
		 SET status = 'unsold', current_highest_bid = 0, current_highest_team = NULL,
		     final_bid = NULL, final_team = NULL
		 WHERE id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("mark player unsold: %w", err)
	}
	return nil
}

func (s *Postgres) LastSold(ctx context.Context) (*models.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players
		 WHERE status = 'sold' AND sold_at IS NOT NULL
		 ORDER BY sold_at DESC LIMIT 1`)
	return scanPlayer(row)
}

func (s *Postgres) ApplyUndo(ctx context.Context, undo Undo) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE players
			 SET status = 'available', final_bid = NULL, final_team = NULL,
			     sold_at = NULL, current_highest_bid = 0, current_highest_team = NULL
			 WHERE id = $1`, undo.PlayerID); err != nil {
			return fmt.Errorf("revert player: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE teams
			 SET budget_spent = budget_spent - $2, roster_count = roster_count - 1
			 WHERE id = $1`,
			undo.TeamID, undo.Refund); err != nil {
			return fmt.Errorf("refund team: %w", err)
		}
		if err := markWinningBidTx(ctx, tx, undo.PlayerID, false); err != nil {
			return err
		}
		return nil
	})
}

func (s *Postgres) ReauctionUnsold(ctx context.Context, round int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET status = 'available', auction_round = $1
		 WHERE status = 'unsold'`, round)
	if err != nil {
		return 0, fmt.Errorf("reauction unsold players: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) ResetAuction(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM bids`); err != nil {
			return fmt.Errorf("clear bid ledger: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE players
			 SET status = 'available', current_highest_bid = 0,
			     current_highest_team = NULL, final_bid = NULL,
			     final_team = NULL, sold_at = NULL, auction_round = 1`); err != nil {
			return fmt.Errorf("reset players: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE teams SET budget_spent = 0, roster_count = 0`); err != nil {
			return fmt.Errorf("reset teams: %w", err)
		}
		return nil
	})
}

func (s *Postgres) BidsForPlayer(ctx context.Context, playerID uuid.UUID) ([]*models.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, team_id, amount, is_winning, placed_at
		 FROM bids WHERE player_id = $1 ORDER BY placed_at DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list bids for player: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func (s *Postgres) RecentBids(ctx context.Context, limit int) ([]*models.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, team_id, amount, is_winning, placed_at
		 FROM bids ORDER BY placed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent bids: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func collectBids(rows pgx.Rows) ([]*models.Bid, error) {
	var out []*models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.PlayerID, &b.TeamID, &b.Amount,
			&b.IsWinning, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return out, nil
}

// markWinningBidTx clears every winning flag for the lot, then sets the
// single top bid when winning is true.
func markWinningBidTx(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, winning bool) error {
	if _, err := tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE player_id = $1`, playerID); err != nil {
		return fmt.Errorf("clear winning flags: %w", err)
	}
	if !winning {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE bids SET is_winning = TRUE
		 WHERE id = (
			SELECT id FROM bids WHERE player_id = $1
			ORDER BY amount DESC, placed_at DESC LIMIT 1
		 )`, playerID); err != nil {
		return fmt.Errorf("flag winning bid: %w", err)
	}
	return nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

var _ Store = (*Postgres)(nil)
