package journal

import (
	"context"
	"errors"
	"fmt"

	"snipebot/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgErrUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS trade_records (
	id               TEXT PRIMARY KEY,
	position_id      TEXT NOT NULL,
	action           TEXT NOT NULL,
	attempt          INTEGER NOT NULL,
	mint             TEXT NOT NULL,
	symbol           TEXT NOT NULL DEFAULT '',
	wallet           TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	entry_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	quantity         DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_basis       DOUBLE PRECISION NOT NULL DEFAULT 0,
	input_mint       TEXT NOT NULL DEFAULT '',
	output_mint      TEXT NOT NULL DEFAULT '',
	in_amount        DOUBLE PRECISION NOT NULL DEFAULT 0,
	out_amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
	price            DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_impact_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	slippage_bps     INTEGER NOT NULL DEFAULT 0,
	liquidity        DOUBLE PRECISION NOT NULL DEFAULT 0,
	outcome          TEXT NOT NULL,
	tx_ref           TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	latency_ms       BIGINT NOT NULL DEFAULT 0,
	recorded_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_records_position_idx ON trade_records (position_id, recorded_at);
`

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("Некорректный DSN postgres: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Не удалось подключиться к postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Postgres не отвечает: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Не удалось создать таблицу trade_records: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Record(ctx context.Context, r models.TradeRecord) error {
	if r.ID == "" {
		return ErrInvalidInput
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO trade_records (
			id, position_id, action, attempt, mint, symbol, wallet, state, reason,
			entry_price, quantity, cost_basis, input_mint, output_mint,
			in_amount, out_amount, price, price_impact_pct, slippage_bps, liquidity,
			outcome, tx_ref, error, latency_ms, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		r.ID, r.PositionID, string(r.Action), r.Attempt, r.Mint, r.Symbol, r.Wallet, string(r.State), r.Reason,
		r.EntryPrice, r.Quantity, r.CostBasis, r.InputMint, r.OutputMint,
		r.InAmount, r.OutAmount, r.Price, r.PriceImpactPct, r.SlippageBps, r.Liquidity,
		string(r.Outcome), r.TxRef, r.Error, r.LatencyMs, r.RecordedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("Не удалось записать сделку в журнал: %w", err)
	}
	return nil
}

// CountByPosition is used by operators and tests to audit a position.
func (p *Postgres) CountByPosition(ctx context.Context, positionID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM trade_records WHERE position_id = $1`, positionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("Не удалось прочитать журнал: %w", err)
	}
	return n, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
