// Package seckill implements admission control for limited-stock flash-sale
// orders: at most one order per user per voucher, and at most Stock winning
// orders per voucher, no matter how many requests race.
//
// The per-user lock only serializes one user's duplicate clicks; distinct
// users contend solely at the conditional stock decrement inside
// OrderStore.Create, which is the single serialization point of truth. The
// lock is an optimization layered on top of that decrement, never a
// substitute for it.
package seckill

import (
	"context"
	"fmt"
	"strconv"
	"time"

	fg "github.com/unkn0wn-root/flashguard"
	"github.com/unkn0wn-root/flashguard/idgen"
	"github.com/unkn0wn-root/flashguard/lock"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

// Voucher is the sellable unit: a stock count valid inside a time window.
type Voucher struct {
	ID        int64
	Stock     int
	BeginTime time.Time
	EndTime   time.Time
}

// Order is a winning purchase. ID comes from the id allocator.
type Order struct {
	ID        int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

// VoucherStore reads voucher metadata.
type VoucherStore interface {
	Voucher(ctx context.Context, id int64) (Voucher, bool, error)
}

// OrderStore persists orders and answers the one-order-per-user re-check.
//
// Create is the serialization point of truth for stock: it must decrement
// o.VoucherID's stock only while stock > 0 AND persist o, as one atomic
// step (one transaction). taken=false with a nil error means stock ran out.
// A failed insert must leave the stock untouched; a unit may never be
// consumed without its order existing.
type OrderStore interface {
	HasOrder(ctx context.Context, userID, voucherID int64) (bool, error)
	Create(ctx context.Context, o Order) (taken bool, err error)
}

// EventSink receives accepted orders after they are persisted. Delivery is
// best-effort: sink errors are logged and never fail the purchase.
type EventSink interface {
	OrderAccepted(ctx context.Context, o Order) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) OrderAccepted(context.Context, Order) error { return nil }

// Pipeline turns a purchase request into at most one order while stock
// remains. Safe for concurrent use.
type Pipeline struct {
	vouchers VoucherStore
	orders   OrderStore
	ids      *idgen.Allocator
	store    pr.Store
	sink     EventSink
	log      fg.Logger

	lockTTL     time.Duration
	idNamespace string
	now         func() time.Time
}

// Config for New. Vouchers, Orders, IDs and Store are required.
type Config struct {
	Vouchers VoucherStore
	Orders   OrderStore
	IDs      *idgen.Allocator
	Store    pr.Store // shared key-value store for per-user locks

	Sink    EventSink     // nil => NopSink
	Logger  fg.Logger     // nil => NopLogger
	LockTTL time.Duration // per-user lock; must exceed worst-case pipeline latency; 0 => 10s

	// IDNamespace partitions order ids; 0-value => "order".
	IDNamespace string

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Vouchers == nil {
		return nil, fmt.Errorf("seckill: voucher store is required")
	}
	if cfg.Orders == nil {
		return nil, fmt.Errorf("seckill: order store is required")
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("seckill: id allocator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("seckill: key-value store is required")
	}

	p := &Pipeline{
		vouchers:    cfg.Vouchers,
		orders:      cfg.Orders,
		ids:         cfg.IDs,
		store:       cfg.Store,
		sink:        cfg.Sink,
		log:         cfg.Logger,
		lockTTL:     cfg.LockTTL,
		idNamespace: cfg.IDNamespace,
		now:         cfg.Now,
	}
	if p.sink == nil {
		p.sink = NopSink{}
	}
	if p.log == nil {
		p.log = fg.NopLogger{}
	}
	if p.lockTTL <= 0 {
		p.lockTTL = 10 * time.Second
	}
	if p.idNamespace == "" {
		p.idNamespace = "order"
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Purchase admits or rejects one purchase request. Rejections come back as
// the sentinel errors in this package (match with errors.Is, map to response
// codes with Code); any other error is a transient internal failure.
func (p *Pipeline) Purchase(ctx context.Context, userID, voucherID int64) (orderID int64, err error) {
	v, found, err := p.vouchers.Voucher(ctx, voucherID)
	if err != nil {
		return 0, fmt.Errorf("seckill: voucher %d: %w", voucherID, err)
	}
	if !found {
		return 0, fmt.Errorf("seckill: voucher %d: %w", voucherID, ErrUnknownVoucher)
	}

	// Fast-fail checks before any locking, to keep the critical section
	// minimal. None of them are authoritative: stock is re-checked by the
	// conditional decrement, duplicates by the in-lock re-check.
	now := p.now()
	if now.Before(v.BeginTime) {
		return 0, ErrNotStarted
	}
	if now.After(v.EndTime) {
		return 0, ErrEnded
	}
	if v.Stock < 1 {
		return 0, ErrStockExhausted
	}

	mu := lock.New(p.store, "order:"+strconv.FormatInt(userID, 10))
	got, err := mu.TryLock(ctx, p.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("seckill: user lock: %w: %w", fg.ErrUnavailable, err)
	}
	if !got {
		// the same user already has a purchase in flight
		return 0, ErrOrderInFlight
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, uerr := mu.Unlock(uctx); uerr != nil {
			p.log.Warn("user lock release failed", fg.Fields{"user": userID, "err": uerr})
		}
	}()

	return p.createOrder(ctx, userID, voucherID)
}

// createOrder runs inside the per-user lock.
func (p *Pipeline) createOrder(ctx context.Context, userID, voucherID int64) (int64, error) {
	// Re-check under the lock: the fast-path checks have no per-user memory,
	// and without this the unlock->reacquire gap would admit a second order.
	exists, err := p.orders.HasOrder(ctx, userID, voucherID)
	if err != nil {
		return 0, fmt.Errorf("seckill: order lookup: %w", err)
	}
	if exists {
		return 0, ErrAlreadyPurchased
	}

	// The id is allocated before any stock is committed; one burned on a
	// sold-out voucher is harmless, a unit taken without an order is not.
	id, err := p.ids.NextID(ctx, p.idNamespace)
	if err != nil {
		return 0, fmt.Errorf("seckill: order id: %w", err)
	}

	// Create decrements and inserts as one transaction. taken=false means
	// stock ran out since the fast-path check - expected under contention.
	// On error nothing was written, so the unit stays sellable.
	o := Order{ID: id, UserID: userID, VoucherID: voucherID, CreatedAt: p.now()}
	taken, err := p.orders.Create(ctx, o)
	if err != nil {
		return 0, fmt.Errorf("seckill: order create: %w", err)
	}
	if !taken {
		return 0, ErrStockExhausted
	}

	if serr := p.sink.OrderAccepted(ctx, o); serr != nil {
		p.log.Warn("order event publish failed", fg.Fields{"order": id, "err": serr})
	}
	return id, nil
}
