package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const budgetSchema = `
CREATE TABLE IF NOT EXISTS budget_spend (
	tenant_id TEXT NOT NULL,
	period TEXT NOT NULL,
	spend DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, period)
);
`

// Init creates the budget_spend table when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, budgetSchema); err != nil {
		return fmt.Errorf("create budget_spend: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, tenantID, period string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT spend FROM budget_spend WHERE tenant_id = $1 AND period = $2",
		tenantID, period)

	var spend float64
	err := row.Scan(&spend)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load spend: %w", err)
	}
	return spend, nil
}

// AddSpend increments spend in a single upsert so concurrent writers never lose updates.
func (s *PostgresStore) AddSpend(ctx context.Context, tenantID, period string, amount float64) (float64, error) {
	query := `
		INSERT INTO budget_spend (tenant_id, period, spend, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, period) DO UPDATE SET
			spend = budget_spend.spend + EXCLUDED.spend,
			updated_at = EXCLUDED.updated_at
		RETURNING spend
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, tenantID, period, amount).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to add spend: %w", err)
	}
	return total, nil
}
