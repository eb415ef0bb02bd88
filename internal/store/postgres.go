package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   dbtx
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.LiquidityPool) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO liquidity_pools (id, asset_id, balance, fee_rate_bps, max_loan_ratio_bps, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		p.ID, p.Asset.String(), p.Balance.Quantity.String(),
		p.FeeRateBps, p.MaxLoanRatioBps, p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, p.Asset)
	}
	return err
}

const poolColumns = `id, asset_id, balance::TEXT, fee_rate_bps, max_loan_ratio_bps, created_at`

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.LiquidityPool, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM liquidity_pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPoolByAsset(ctx context.Context, id asset.ID) (*model.LiquidityPool, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM liquidity_pools WHERE asset_id = $1`, id.String())
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %s", ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool by asset %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.LiquidityPool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+poolColumns+` FROM liquidity_pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.LiquidityPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpdatePoolBalance(ctx context.Context, id string, balance asset.Amount) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE liquidity_pools SET balance = $2::NUMERIC
		 WHERE id = $1 AND asset_id = $3`,
		id, balance.Quantity.String(), balance.Asset.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s holding %s", ErrPoolNotFound, id, balance.Asset)
	}
	return nil
}

func (s *PostgresStore) CreateLoan(ctx context.Context, l *model.LoanRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO loan_records (id, pool_id, borrower, asset_id, amount, fee, expiry, repaid, created_at, repaid_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		l.ID, l.PoolID, l.Borrower, l.Amount.Asset.String(),
		l.Amount.Quantity.String(), l.Fee.Quantity.String(),
		l.Expiry, l.Repaid, l.CreatedAt, l.RepaidAt,
	)
	return err
}

const loanColumns = `id, pool_id, borrower, asset_id, amount::TEXT, fee::TEXT, expiry, repaid, created_at, repaid_at`

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (*model.LoanRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loan_records WHERE id = $1`, id)
	l, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) ListLoansByBorrower(ctx context.Context, borrower string) ([]model.LoanRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+loanColumns+` FROM loan_records WHERE borrower = $1 ORDER BY created_at`, borrower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []model.LoanRecord
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

func (s *PostgresStore) MarkLoanRepaid(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE loan_records SET repaid = TRUE, repaid_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}
	return nil
}

// Atomic runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

// scanPool and scanLoan read a single row from either pgx.Row or pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanPool(row pgxRow) (*model.LiquidityPool, error) {
	var p model.LiquidityPool
	var assetS, balanceS string

	if err := row.Scan(&p.ID, &assetS, &balanceS,
		&p.FeeRateBps, &p.MaxLoanRatioBps, &p.CreatedAt); err != nil {
		return nil, err
	}

	id, err := asset.ParseID(assetS)
	if err != nil {
		return nil, err
	}
	balance, err := parseNumeric(balanceS, id)
	if err != nil {
		return nil, fmt.Errorf("pool %s balance: %w", p.ID, err)
	}
	p.Asset = id
	p.Balance = balance
	return &p, nil
}

func scanLoan(row pgxRow) (*model.LoanRecord, error) {
	var l model.LoanRecord
	var assetS, amountS, feeS string

	if err := row.Scan(&l.ID, &l.PoolID, &l.Borrower, &assetS, &amountS, &feeS,
		&l.Expiry, &l.Repaid, &l.CreatedAt, &l.RepaidAt); err != nil {
		return nil, err
	}

	id, err := asset.ParseID(assetS)
	if err != nil {
		return nil, err
	}
	if l.Amount, err = parseNumeric(amountS, id); err != nil {
		return nil, fmt.Errorf("loan %s amount: %w", l.ID, err)
	}
	if l.Fee, err = parseNumeric(feeS, id); err != nil {
		return nil, fmt.Errorf("loan %s fee: %w", l.ID, err)
	}
	return &l, nil
}

// parseNumeric converts a NUMERIC(38,18) text value back to an amount at the
// asset's precision. The column scale only ever adds trailing zeros, so a
// value with non-zero digits beyond the precision is rejected as corrupt.
func parseNumeric(s string, id asset.ID) (asset.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return asset.Amount{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return asset.NewAmount(id, d)
}
