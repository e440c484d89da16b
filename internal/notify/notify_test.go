package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedisPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "walletflow:invalidate")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedis(client, "walletflow:invalidate")
	ev := Event{Tags: []Tag{TagWallet, TagPayment}, Entity: "payment_intent", EntityID: "p1", Status: "completed"}
	require.NoError(t, pub.Publish(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev.Tags, got.Tags)
		assert.Equal(t, "p1", got.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation message received")
	}
}

func TestRedisPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedis(client, "c").Publish(context.Background(), Event{Tags: []Tag{TagWallet}})
	assert.Error(t, err)
}

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("broker down") }

type recording struct{ events []Event }

func (r *recording) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestMultiPublishesToAll(t *testing.T) {
	rec := &recording{}
	err := Multi{failing{}, rec}.Publish(context.Background(), Event{EntityID: "r1"})

	assert.EqualError(t, err, "broker down")
	require.Len(t, rec.events, 1)
	assert.Equal(t, "r1", rec.events[0].EntityID)
}

func TestEmitterLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := NewEmitter(failing{}, zap.New(core))

	e.Emit(context.Background(), Event{Entity: "money_request", EntityID: "r1"})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "invalidation publish failed", logs.All()[0].Message)
}

func TestEmitterStampsTime(t *testing.T) {
	rec := &recording{}
	e := NewEmitter(rec, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	e.Emit(context.Background(), Event{EntityID: "r1"})

	require.Len(t, rec.events, 1)
	assert.Equal(t, fixed, rec.events[0].At)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Publish(context.Background(), Event{Tags: []Tag{TagMoneyRequests}, EntityID: "r1"}))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "invalidate", logs.All()[0].Message)
}
