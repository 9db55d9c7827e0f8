// Package kafka publishes accepted orders to a Kafka topic, keyed by voucher
// so all orders for one voucher land on one partition in admission order.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/unkn0wn-root/flashguard/seckill"
)

// Sink writes order-accepted events. Satisfies seckill.EventSink; the
// pipeline treats publish failures as best-effort, so a broker outage never
// blocks admissions.
type Sink struct {
	w *kafkago.Writer
}

var _ seckill.EventSink = (*Sink)(nil)

type Config struct {
	Brokers []string
	Topic   string

	// BatchTimeout flushes partial batches; 0 => 50ms. Purchases are latency
	// sensitive, so the default leans low.
	BatchTimeout time.Duration
}

func New(cfg Config) *Sink {
	bt := cfg.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	return &Sink{
		w: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: bt,
		},
	}
}

type orderEvent struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Sink) OrderAccepted(ctx context.Context, o seckill.Order) error {
	b, err := json.Marshal(orderEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		VoucherID: o.VoucherID,
		CreatedAt: o.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(strconv.FormatInt(o.VoucherID, 10)),
		Value: b,
	})
}

func (s *Sink) Close() error { return s.w.Close() }
