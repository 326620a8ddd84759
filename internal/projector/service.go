// Package projector folds order events into per-seller sales counters.
package projector

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const dedupScope = "projector"

// Topics the projector subscribes to.
var Topics = []string{orders.TopicOrderPlaced, orders.TopicOrderStatusChanged}

type Service struct {
	KV redisx.KV
}

// HandleEvent is the consumer handler. Returning nil commits the offset,
// so only infrastructure failures are returned; bad messages are logged and skipped.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	log := logx.FromContext(ctx).With("topic", m.Topic, "offset", m.Offset)

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Error("undecodable envelope, skipping", "err", err)
		metrics.EventsProjected.WithLabelValues("unknown", "failed").Inc()
		return nil
	}

	var fields map[string]int64
	var sellerID string
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			log.Error("bad OrderPlaced payload", "event_id", env.EventID, "err", err)
			metrics.EventsProjected.WithLabelValues(env.EventType, "failed").Inc()
			return nil
		}
		sellerID, fields = p.SellerID, delta(1, p.Quantity, p.Price)
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			log.Error("bad OrderStatusChanged payload", "event_id", env.EventID, "err", err)
			metrics.EventsProjected.WithLabelValues(env.EventType, "failed").Inc()
			return nil
		}
		if p.To != orders.StatusCancelled {
			metrics.EventsProjected.WithLabelValues(env.EventType, "ignored").Inc()
			return nil
		}
		// order batal -> kurangi lagi angka penjual
		sellerID, fields = p.SellerID, delta(-1, -p.Quantity, p.Price)
	default:
		metrics.EventsProjected.WithLabelValues(env.EventType, "ignored").Inc()
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	first, err := s.KV.SetNX(ctx, dkey, "1", redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		metrics.EventsProjected.WithLabelValues(env.EventType, "duplicate").Inc()
		return nil
	}

	if err := s.KV.HIncrBy(ctx, fmt.Sprintf(redisx.KeySellerStats, sellerID), fields); err != nil {
		// lepas dedup supaya redelivery bisa diproses ulang
		_ = s.KV.Del(context.WithoutCancel(ctx), dkey)
		metrics.EventsProjected.WithLabelValues(env.EventType, "failed").Inc()
		return fmt.Errorf("seller stats %s: %w", sellerID, err)
	}
	metrics.EventsProjected.WithLabelValues(env.EventType, "applied").Inc()
	log.Debug("event projected", "event_id", env.EventID, "type", env.EventType, "seller_id", sellerID)
	return nil
}

// delta builds the hash increments for one order; qty and the order count
// carry the sign, price is the unit price.
func delta(orderCount, qty int, price decimal.Decimal) map[string]int64 {
	revenue := price.Mul(decimal.NewFromInt(int64(qty))).Shift(2).Round(0)
	return map[string]int64{
		"orders":        int64(orderCount),
		"units":         int64(qty),
		"revenue_cents": revenue.IntPart(),
	}
}
