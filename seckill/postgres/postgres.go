// Package postgres backs the seckill stores with pgx. The conditional
// decrement relies on the database's row-level atomicity: the UPDATE
// predicate `stock > 0` is evaluated at decrement time, so stock can never
// go negative however many pipelines race. The decrement and the order
// insert share one transaction, so stock and orders move together or not
// at all.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/flashguard/seckill"
)

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ seckill.VoucherStore = (*Store)(nil)
	_ seckill.OrderStore   = (*Store)(nil)
)

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool; the caller keeps ownership.
func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Voucher(ctx context.Context, id int64) (seckill.Voucher, bool, error) {
	var v seckill.Voucher
	err := s.pool.QueryRow(ctx, `
		SELECT voucher_id, stock, begin_time, end_time
		FROM seckill_vouchers
		WHERE voucher_id = $1
	`, id).Scan(&v.ID, &v.Stock, &v.BeginTime, &v.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return seckill.Voucher{}, false, nil
	}
	if err != nil {
		return seckill.Voucher{}, false, err
	}
	return v, true, nil
}

func (s *Store) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM voucher_orders WHERE user_id = $1 AND voucher_id = $2
		)
	`, userID, voucherID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Create takes one stock unit and persists the order in a single
// transaction. Zero rows from the conditional decrement means stock ran out:
// the transaction rolls back and nothing is written. Any error also rolls
// back, so an insert failure can never leave a decremented unit behind.
func (s *Store) Create(ctx context.Context, o seckill.Order) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE seckill_vouchers
		SET stock = stock - 1
		WHERE voucher_id = $1 AND stock > 0
	`, o.VoucherID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, o.ID, o.UserID, o.VoucherID, o.CreatedAt)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	tx = nil
	return true, nil
}

// UpdateVoucher rewrites a voucher's sale window and stock, then runs
// confirm (typically the cache invalidation) before COMMIT. When confirm
// fails the row update rolls back: a stale cache entry over a committed
// write would be a correctness bug, so the cache delete is
// transaction-fatal, not best-effort.
func (s *Store) UpdateVoucher(ctx context.Context, v seckill.Voucher, confirm func(context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		UPDATE seckill_vouchers
		SET stock = $2, begin_time = $3, end_time = $4
		WHERE voucher_id = $1
	`, v.ID, v.Stock, v.BeginTime, v.EndTime)
	if err != nil {
		return err
	}

	if confirm != nil {
		if err := confirm(ctx); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	tx = nil
	return nil
}

// Schema for reference; run it with your migration tooling of choice.
//
//	CREATE TABLE seckill_vouchers (
//	    voucher_id BIGINT PRIMARY KEY,
//	    stock      INT NOT NULL CHECK (stock >= 0),
//	    begin_time TIMESTAMPTZ NOT NULL,
//	    end_time   TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE voucher_orders (
//	    id         BIGINT PRIMARY KEY,
//	    user_id    BIGINT NOT NULL,
//	    voucher_id BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    UNIQUE (user_id, voucher_id)
//	);
