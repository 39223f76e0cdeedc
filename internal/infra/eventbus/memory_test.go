package eventbus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DrainDeliversToTopicSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, "payment", "order.created", func(ctx context.Context, msg Message) error {
		got = append(got, "payment:"+msg.ID)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "audit", "order.created", func(ctx context.Context, msg Message) error {
		got = append(got, "audit:"+msg.ID)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "m1", "order.created", []byte(`{}`)))
	require.NoError(t, bus.Publish(ctx, "m2", "order.accepted", []byte(`{}`)))

	assert.Equal(t, 2, bus.Drain(ctx))
	assert.Equal(t, []string{"payment:m1", "audit:m1"}, got)
	assert.Equal(t, 0, bus.Drain(ctx))
	assert.Len(t, bus.Published(), 2)
	assert.Len(t, bus.PublishedTo("order.accepted"), 1)
}

// ハンドラ内でpublishしたものも同じDrainで配られる
func TestMemoryBus_DrainFollowsChain(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	require.NoError(t, bus.Subscribe(ctx, "payment", "a", func(ctx context.Context, msg Message) error {
		return bus.Publish(ctx, msg.ID+"-b", "b", nil)
	}))
	var seen []string
	require.NoError(t, bus.Subscribe(ctx, "order", "b", func(ctx context.Context, msg Message) error {
		seen = append(seen, msg.ID)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "m1", "a", nil))

	assert.Equal(t, 2, bus.Drain(ctx))
	assert.Equal(t, []string{"m1-b"}, seen)
}

func TestMemoryBus_PublishHookFailure(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	bus.SetPublishHook(func(Message) error { return errors.New("broker down") })

	assert.Error(t, bus.Publish(ctx, "m1", "a", nil))
	assert.Empty(t, bus.Published())

	bus.SetPublishHook(nil)
	assert.NoError(t, bus.Publish(ctx, "m1", "a", nil))
	assert.Len(t, bus.Published(), 1)
}

func TestMemoryBus_DeadLetters(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	require.NoError(t, bus.Subscribe(ctx, "order", "a", func(ctx context.Context, msg Message) error {
		return ErrDeadLetter
	}))
	require.NoError(t, bus.Subscribe(ctx, "payment", "a", func(ctx context.Context, msg Message) error {
		return errors.New("other failure")
	}))

	bus.Deliver(ctx, Message{ID: "m1", Topic: "a"})

	dl := bus.DeadLetters()
	require.Len(t, dl, 1)
	assert.Equal(t, "m1", dl[0].ID)
}

// dead-letter以外のエラーはログに残し、他の購読者への配信は続ける
func TestMemoryBus_HandlerErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	ctx := context.Background()
	bus := NewMemoryBus()
	require.NoError(t, bus.Subscribe(ctx, "payment", "order.created", func(ctx context.Context, msg Message) error {
		return errors.New("db down")
	}))
	delivered := 0
	require.NoError(t, bus.Subscribe(ctx, "audit", "order.created", func(ctx context.Context, msg Message) error {
		delivered++
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "m1", "order.created", []byte(`{}`)))
	assert.Equal(t, 1, bus.Drain(ctx))

	assert.Equal(t, 1, delivered)
	assert.Empty(t, bus.DeadLetters())
	failed := bus.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "m1", failed[0].ID)

	out := buf.String()
	assert.Contains(t, out, "handler failed, message dropped")
	assert.Contains(t, out, `"group":"payment"`)
	assert.Contains(t, out, `"message_id":"m1"`)
	assert.Contains(t, out, "db down")
}

func TestMemoryBus_PublishCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := NewMemoryBus()
	assert.ErrorIs(t, bus.Publish(ctx, "m1", "a", nil), context.Canceled)
	assert.Empty(t, bus.Published())
}
