package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type RabbitMQOptions struct {
	Exchange string
	Prefetch int
	// 空ならdead-letterなし
	DeadLetterExchange string
}

// topic exchange 1つに全イベントを流す
type RabbitMQ struct {
	conn *amqp.Connection
	opts RabbitMQOptions

	//confirmモードのchannelは並行publishできないので直列にする
	mu    sync.Mutex
	pubCh *amqp.Channel
}

func DialRabbitMQ(ctx context.Context, url string, opts RabbitMQOptions) (*RabbitMQ, error) {
	var conn *amqp.Connection

	// RabbitMQの起動待ち
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 10), ctx)
	err := backoff.RetryNotify(func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, bo, func(err error, d time.Duration) {
		log.Warn().Err(err).Dur("retry_in", d).Msg("failed to connect to RabbitMQ, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declareExchanges(ch, opts); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQ{conn: conn, opts: opts, pubCh: ch}, nil
}

func declareExchanges(ch *amqp.Channel, opts RabbitMQOptions) error {
	if err := ch.ExchangeDeclare(
		opts.Exchange, // name
		"topic",       // kind
		true,          // durable
		false,         // auto-delete
		false,         // internal
		false,         // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if opts.DeadLetterExchange == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(opts.DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	return nil
}

// brokerのconfirm(ack)まで待つ
func (r *RabbitMQ) Publish(ctx context.Context, id string, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conf, err := r.pubCh.PublishWithDeferredConfirmWithContext(ctx,
		r.opts.Exchange, // exchange
		topic,           // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			MessageId:    id,
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("broker nacked message")
	}
	return nil
}

func queueName(group, topic string) string {
	return group + "." + topic
}

// キューごとのdead-letter経路。
// routing keyを元キュー名にするので、同じtopicを購読する別グループのDLQには入らない。
type deadLetterRoute struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

func newDeadLetterRoute(queue, exchange string) deadLetterRoute {
	if exchange == "" {
		return deadLetterRoute{}
	}
	return deadLetterRoute{Exchange: exchange, Queue: queue + ".dlq", RoutingKey: queue}
}

func (d deadLetterRoute) enabled() bool {
	return d.Exchange != ""
}

func (d deadLetterRoute) queueArgs() amqp.Table {
	args := amqp.Table{}
	if d.enabled() {
		args["x-dead-letter-exchange"] = d.Exchange
		args["x-dead-letter-routing-key"] = d.RoutingKey
	}
	return args
}

// キューを宣言してconsumeを始める。受信ループはctxが終わるまで動く。
func (r *RabbitMQ) Subscribe(ctx context.Context, group, topic string, h Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(r.opts.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	queue := queueName(group, topic)
	dl := newDeadLetterRoute(queue, r.opts.DeadLetterExchange)
	if dl.enabled() {
		if _, err := ch.QueueDeclare(dl.Queue, true, false, false, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(dl.Queue, dl.RoutingKey, dl.Exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}
	args := dl.queueArgs()

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	if err := ch.QueueBind(queue, topic, r.opts.Exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind a queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go r.consume(ctx, ch, queue, deliveries, h)
	return nil
}

func (r *RabbitMQ) consume(ctx context.Context, ch *amqp.Channel, queue string, deliveries <-chan amqp.Delivery, h Handler) {
	defer ch.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Str("queue", queue).Msg("delivery channel closed")
				return
			}
			r.dispatch(ctx, queue, d, h)
		}
	}
}

// ハンドラのエラーはログに出してackする（requeueしない）
func (r *RabbitMQ) dispatch(ctx context.Context, queue string, d amqp.Delivery, h Handler) {
	err := h(ctx, Message{ID: d.MessageId, Topic: d.RoutingKey, Payload: d.Body})
	switch {
	case err == nil:
	case errors.Is(err, ErrDeadLetter) && r.opts.DeadLetterExchange != "":
		if nerr := d.Nack(false, false); nerr != nil {
			log.Error().Err(nerr).Str("queue", queue).Str("message_id", d.MessageId).Msg("failed to nack message")
		}
		return
	default:
		log.Error().Err(err).Str("queue", queue).Str("message_id", d.MessageId).Msg("handler failed, message acked")
	}
	if aerr := d.Ack(false); aerr != nil {
		log.Error().Err(aerr).Str("queue", queue).Str("message_id", d.MessageId).Msg("failed to ack message")
	}
}

func (r *RabbitMQ) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubCh != nil {
		r.pubCh.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
