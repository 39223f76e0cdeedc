package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	group string
	topic string
	h     Handler
}

// プロセス内のバス。publishされたものは全部記録し、Drainで購読者に配る。
// テストと単一プロセス実行用。
type MemoryBus struct {
	mu          sync.Mutex
	published   []Message
	pending     []Message
	deadLetters []Message
	failed      []Message
	subs        []subscription
	publishHook func(Message) error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// publishの前に呼ばれる。エラーを返すとpublishは失敗する（障害注入用）
func (b *MemoryBus) SetPublishHook(hook func(Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishHook = hook
}

func (b *MemoryBus) Publish(ctx context.Context, id string, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{ID: id, Topic: topic, Payload: append([]byte(nil), payload...)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishHook != nil {
		if err := b.publishHook(msg); err != nil {
			return err
		}
	}
	b.published = append(b.published, msg)
	b.pending = append(b.pending, msg)
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, group, topic string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{group: group, topic: topic, h: h})
	return nil
}

// 溜まったメッセージを購読者へ同期的に配る。配った件数を返す。
func (b *MemoryBus) Drain(ctx context.Context) int {
	delivered := 0
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return delivered
		}
		msg := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		b.Deliver(ctx, msg)
		delivered++
	}
}

// 1件をそのtopicの購読者全員に配る（再配信テスト用にも使う）
func (b *MemoryBus) Deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	var targets []subscription
	for _, s := range b.subs {
		if s.topic == msg.Topic {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	//RabbitMQ.dispatchと同じく、エラーはログに出して捨てる（再配信しない）
	for _, s := range targets {
		err := s.h(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrDeadLetter):
			b.mu.Lock()
			b.deadLetters = append(b.deadLetters, msg)
			b.mu.Unlock()
		default:
			log.Error().Err(err).Str("group", s.group).Str("topic", msg.Topic).Str("message_id", msg.ID).Msg("handler failed, message dropped")
			b.mu.Lock()
			b.failed = append(b.failed, msg)
			b.mu.Unlock()
		}
	}
}

func (b *MemoryBus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

func (b *MemoryBus) PublishedTo(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBus) DeadLetters() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// ハンドラがエラーを返したメッセージ（dead-letterは含まない）
func (b *MemoryBus) Failed() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.failed))
	copy(out, b.failed)
	return out
}
