package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// BalanceEvent is emitted after a wallet mutation commits.
type BalanceEvent struct {
	UserID      string    `json:"user_id"`
	WalletID    int64     `json:"wallet_id"`
	ReferenceID string    `json:"reference_id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Balance     string    `json:"balance"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer MessageWriter
}

// NewKafkaWriter hashes on the message key so one user's events stay ordered.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) PublishBalance(ctx context.Context, event BalanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal balance event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("wallet.balance_changed")},
			{Key: "wallet_id", Value: []byte(strconv.FormatInt(event.WalletID, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("write balance event to kafka: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
