package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Publisher announces settled credits on a Redis channel so downstream
// consumers (fulfilment, receipts) can react. Delivery is fire and
// forget; a failed publish is logged and dropped.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewPublisher(rdb redis.UniversalClient, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

type creditEvent struct {
	OwnerID      string `json:"owner_id"`
	AmountMicros int64  `json:"amount_micros"`
	OrderID      string `json:"order_id"`
	SettledAt    int64  `json:"settled_at"`
}

func (p *Publisher) NotifyCredit(ctx context.Context, ownerID uuid.UUID, amountMicros int64, orderID string) {
	payload, err := json.Marshal(creditEvent{
		OwnerID:      ownerID.String(),
		AmountMicros: amountMicros,
		OrderID:      orderID,
		SettledAt:    time.Now().Unix(),
	})
	if err != nil {
		zap.L().Error("encode credit event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		zap.L().Warn("publish credit event",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

// Noop is a Publisher stand-in for wiring without Redis.
type Noop struct{}

func (Noop) NotifyCredit(context.Context, uuid.UUID, int64, string) {}
