package consumer

import (
	"context"
	"errors"

	"spot/internal/domain/model"
	"spot/internal/infra/eventbus"
	repo "spot/internal/repository"
	"spot/internal/usecase"

	"github.com/rs/zerolog/log"
)

const paymentGroup = "payment"

type PaymentCoordinator interface {
	Ready(ctx context.Context, in usecase.ReadyInput) (string, error)
	Approve(ctx context.Context, paymentID string) (usecase.ApproveResult, error)
	RefundByOrderID(ctx context.Context, orderID string, reason string) (usecase.CancelResult, error)
	FindByOrderID(ctx context.Context, orderID string) (usecase.PaymentOutput, error)
}

// 決済サービス側の購読: order.created / order.cancelled
type PaymentConsumer struct {
	saga   PaymentCoordinator
	policy decodePolicy
}

func NewPaymentConsumer(saga PaymentCoordinator, deadLetter bool) *PaymentConsumer {
	return &PaymentConsumer{saga: saga, policy: decodePolicy{deadLetter: deadLetter}}
}

func (c *PaymentConsumer) Register(ctx context.Context, sub eventbus.Subscriber) error {
	if err := sub.Subscribe(ctx, paymentGroup, model.TopicOrderCreated, c.HandleOrderCreated); err != nil {
		return err
	}
	return sub.Subscribe(ctx, paymentGroup, model.TopicOrderCancelled, c.HandleOrderCancelled)
}

// ready -> approve。再配信は同じidempotency keyで同じ決済に当たる。
func (c *PaymentConsumer) HandleOrderCreated(ctx context.Context, msg eventbus.Message) error {
	var ev model.OrderCreatedEvent
	if ok, err := c.policy.decode(msg, &ev, func() string { return ev.OrderID }); !ok {
		return err
	}

	paymentID, err := c.saga.Ready(ctx, usecase.ReadyInput{
		OrderID:        ev.OrderID,
		UserID:         ev.UserID,
		Title:          ev.Title,
		Method:         model.PaymentMethod(ev.PaymentMethod),
		Amount:         ev.Amount,
		IdempotencyKey: "order-created-" + ev.OrderID,
	})
	if errors.Is(err, usecase.ErrDuplicatePayment) {
		//別経路で作られた決済。READYのままなら続きをやる
		existing, ferr := c.saga.FindByOrderID(ctx, ev.OrderID)
		if ferr != nil || existing.Status != model.PaymentStatusReady {
			log.Info().Str("order_id", ev.OrderID).Msg("active payment already exists, skipping")
			return nil
		}
		paymentID = existing.ID
	} else if err != nil {
		return err
	}

	res, err := c.saga.Approve(ctx, paymentID)
	if errors.Is(err, usecase.ErrInvalidPaymentState) {
		log.Info().Str("order_id", ev.OrderID).Str("payment_id", paymentID).Msg("payment already processed, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().
		Str("order_id", ev.OrderID).
		Str("payment_id", paymentID).
		Str("status", string(res.Status)).
		Bool("auth_required", res.AuthRequired).
		Msg("order.created handled")
	return nil
}

// 補償: 注文取消 -> 返金（承認前なら無効化）
func (c *PaymentConsumer) HandleOrderCancelled(ctx context.Context, msg eventbus.Message) error {
	var ev model.OrderCancelledEvent
	if ok, err := c.policy.decode(msg, &ev, func() string { return ev.OrderID }); !ok {
		return err
	}

	res, err := c.saga.RefundByOrderID(ctx, ev.OrderID, ev.Reason)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		log.Info().Str("order_id", ev.OrderID).Msg("no active payment to refund")
		return nil
	case errors.Is(err, usecase.ErrInvalidPaymentState):
		log.Warn().Err(err).Str("order_id", ev.OrderID).Msg("payment cannot be refunded now")
		return nil
	case err != nil:
		return err
	}
	log.Info().Str("order_id", ev.OrderID).Str("payment_id", res.PaymentID).Str("status", string(res.Status)).Msg("order.cancelled handled")
	return nil
}
