// Package notify delivers post-commit balance notifications. Delivery is
// best effort: failures are logged and never retried.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"payledger/internal/events"
	"payledger/internal/websocket"
)

type Broadcaster interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

type Publisher interface {
	PublishBalance(ctx context.Context, event events.BalanceEvent) error
}

type Fanout struct {
	hub       Broadcaster
	publisher Publisher
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewFanout accepts a nil publisher when no broker is configured.
func NewFanout(hub Broadcaster, publisher Publisher) *Fanout {
	return &Fanout{hub: hub, publisher: publisher, timeout: 5 * time.Second}
}

func (f *Fanout) NotifyBalance(ctx context.Context, event events.BalanceEvent) {
	if f.hub != nil {
		f.hub.BroadcastBalance(event.UserID, websocket.BalanceUpdate{
			WalletID:    event.WalletID,
			ReferenceID: event.ReferenceID,
			Type:        event.Type,
			Amount:      event.Amount,
			Balance:     event.Balance,
			Currency:    event.Currency,
		})
	}
	if f.publisher == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		if err := f.publisher.PublishBalance(pubCtx, event); err != nil {
			zap.L().Warn("balance event not published",
				zap.String("user_id", event.UserID),
				zap.String("reference_id", event.ReferenceID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
