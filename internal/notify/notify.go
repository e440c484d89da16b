// Package notify emits cache invalidation signals after terminal transitions.
// The presentation layer listens for them and refreshes what it shows.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tag names a cache the presentation layer should refresh.
type Tag string

const (
	TagWallet        Tag = "WALLET"
	TagTransaction   Tag = "TRANSACTION"
	TagMoneyRequests Tag = "MONEY_REQUESTS"
	TagPayment       Tag = "PAYMENT"
)

// Event is one invalidation signal.
type Event struct {
	Tags     []Tag     `json:"tags"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	Status   string    `json:"status"`
	Users    []string  `json:"users"`
	At       time.Time `json:"at"`
}

// Publisher delivers invalidation events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

func NewRedis(client redis.UniversalClient, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode invalidation event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation event: %w", err)
	}
	return nil
}

// Log writes events to a zap logger. It is the fallback when no broker is
// configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, ev Event) error {
	tags := make([]string, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = string(t)
	}
	l.logger.Info("invalidate",
		zap.Strings("tags", tags),
		zap.String("entity", ev.Entity),
		zap.String("entity_id", ev.EntityID),
		zap.String("status", ev.Status),
	)
	return nil
}

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emitter stamps and sends events without failing the caller. The transition
// that triggered an event is already committed when it is emitted.
type Emitter struct {
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewEmitter(pub Publisher, logger *zap.Logger) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pub: pub, logger: logger, now: time.Now}
}

func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.logger.Warn("invalidation publish failed",
			zap.String("entity", ev.Entity),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
	}
}
