package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KindDeposit is emitted after a deposit commits.
	KindDeposit = "wallet.deposit"
	// KindWithdraw is emitted after a withdrawal commits.
	KindWithdraw = "wallet.withdraw"
)

// Message describes a committed balance change.
type Message struct {
	Kind       string    `json:"kind"`
	WalletID   string    `json:"wallet_id"`
	Amount     string    `json:"amount"`
	Balance    string    `json:"balance"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("wallet_id", message.WalletID),
		slog.String("amount", message.Amount),
		slog.String("balance", message.Balance),
		slog.Int64("version", message.Version),
	)
	return nil
}

// RedisPublisher publishes notifications as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a publisher for the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Send publishes the message. Having no subscribers is not an error.
func (p *RedisPublisher) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout sends each message to every notifier and returns the first error.
type Fanout []Notifier

// Send delivers the message to all notifiers even if one of them fails.
func (f Fanout) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
