package eventbus

import (
	"context"
	"errors"
)

// バス上の1メッセージ。IDはoutboxのidで、再送されても変わらない。
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// ハンドラがこれを返すと、dead-letterが有効ならDLXへ送る（無効なら捨てる）
var ErrDeadLetter = errors.New("dead letter")

type Handler func(ctx context.Context, msg Message) error

// ackを受け取ってからnilを返す。idはMessage.IDとして届く。
type Publisher interface {
	Publish(ctx context.Context, id string, topic string, payload []byte) error
}

// group（サービス名）+ topic ごとに1つのキューで受ける
type Subscriber interface {
	Subscribe(ctx context.Context, group, topic string, h Handler) error
}
