package consumer

import (
	"context"
	"errors"

	"spot/internal/domain/model"
	"spot/internal/infra/eventbus"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

const orderGroup = "order"

type OrderTransitions interface {
	CompletePayment(ctx context.Context, orderID string) (model.Order, error)
	HoldForPaymentMethod(ctx context.Context, orderID string, message string) error
	ConfirmRefund(ctx context.Context, orderID string, remaining int64) error
}

// 注文サービス側の購読: payment.succeeded / payment-auth.required / payment.refunded
type OrderConsumer struct {
	sm     OrderTransitions
	policy decodePolicy
}

func NewOrderConsumer(sm OrderTransitions, deadLetter bool) *OrderConsumer {
	return &OrderConsumer{sm: sm, policy: decodePolicy{deadLetter: deadLetter}}
}

func (c *OrderConsumer) Register(ctx context.Context, sub eventbus.Subscriber) error {
	if err := sub.Subscribe(ctx, orderGroup, model.TopicPaymentSucceeded, c.HandlePaymentSucceeded); err != nil {
		return err
	}
	if err := sub.Subscribe(ctx, orderGroup, model.TopicAuthRequired, c.HandleAuthRequired); err != nil {
		return err
	}
	return sub.Subscribe(ctx, orderGroup, model.TopicPaymentRefunded, c.HandlePaymentRefunded)
}

func (c *OrderConsumer) HandlePaymentSucceeded(ctx context.Context, msg eventbus.Message) error {
	var ev model.PaymentSucceededEvent
	if ok, err := c.policy.decode(msg, &ev, func() string { return ev.OrderID }); !ok {
		return err
	}
	o, err := c.sm.CompletePayment(ctx, ev.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("order_id", ev.OrderID).Msg("payment succeeded for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("order_id", o.ID).Str("status", string(o.Status)).Msg("payment.succeeded handled")
	return nil
}

func (c *OrderConsumer) HandleAuthRequired(ctx context.Context, msg eventbus.Message) error {
	var ev model.AuthRequiredEvent
	if ok, err := c.policy.decode(msg, &ev, func() string { return ev.OrderID }); !ok {
		return err
	}
	err := c.sm.HoldForPaymentMethod(ctx, ev.OrderID, ev.Message)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("order_id", ev.OrderID).Msg("auth required for unknown order")
		return nil
	}
	return err
}

func (c *OrderConsumer) HandlePaymentRefunded(ctx context.Context, msg eventbus.Message) error {
	var ev model.PaymentRefundedEvent
	if ok, err := c.policy.decode(msg, &ev, func() string { return ev.OrderID }); !ok {
		return err
	}
	err := c.sm.ConfirmRefund(ctx, ev.OrderID, ev.Remaining)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("order_id", ev.OrderID).Msg("refund for unknown order")
		return nil
	}
	return err
}
