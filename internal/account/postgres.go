package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Cash and margin are stored as NUMERIC for exact decimal precision;
// positions are stored as a JSONB snapshot.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS accounts (
//	    account_id  TEXT PRIMARY KEY,
//	    cash        NUMERIC NOT NULL,
//	    margin      NUMERIC,
//	    positions   JSONB NOT NULL DEFAULT '[]',
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, accountID string) (*Account, error) {
	var (
		a         Account
		cash      string
		margin    *string
		positions []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, cash::TEXT, margin::TEXT, positions
		 FROM accounts WHERE account_id = $1`, accountID).
		Scan(&a.AccountID, &cash, &margin, &positions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get %s: %w", accountID, err)
	}

	a.Cash, err = decimal.NewFromString(cash)
	if err != nil {
		return nil, fmt.Errorf("account: get %s: bad cash %q", accountID, cash)
	}
	if margin != nil {
		m, err := decimal.NewFromString(*margin)
		if err != nil {
			return nil, fmt.Errorf("account: get %s: bad margin %q", accountID, *margin)
		}
		a.MaintenanceMargin = decimal.NewNullDecimal(m)
	}
	if err := json.Unmarshal(positions, &a.Positions); err != nil {
		return nil, fmt.Errorf("account: get %s: positions: %w", accountID, err)
	}
	return &a, nil
}

func (s *PostgresStore) Put(ctx context.Context, a *Account) error {
	positions, err := json.Marshal(a.Positions)
	if err != nil {
		return fmt.Errorf("account: put %s: positions: %w", a.AccountID, err)
	}

	var margin *string
	if a.MaintenanceMargin.Valid {
		m := a.MaintenanceMargin.Decimal.String()
		margin = &m
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, cash, margin, positions, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, now())
		 ON CONFLICT (account_id)
		 DO UPDATE SET cash = EXCLUDED.cash, margin = EXCLUDED.margin,
		               positions = EXCLUDED.positions, updated_at = now()`,
		a.AccountID, a.Cash.String(), margin, positions)
	if err != nil {
		return fmt.Errorf("account: put %s: %w", a.AccountID, err)
	}
	return nil
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("account: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("account: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("account: delete %s: %w", accountID, err)
	}
	return nil
}
