package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// 注文ステータスの変更はすべてここを通す。
// 行ロック + WHERE status = 現在値 で同じ注文への同時遷移を直列にする。
type OrderStateMachine struct {
	tx    repo.TransactionManager
	ids   IDGenerator
	clock Clock
}

func NewOrderStateMachine(tx repo.TransactionManager, ids IDGenerator, clock Clock) *OrderStateMachine {
	return &OrderStateMachine{tx: tx, ids: ids, clock: clock}
}

// 遷移表にない遷移は *model.InvalidTransitionError で、注文は変わらない。
func (m *OrderStateMachine) Transition(ctx context.Context, actor string, orderID string, target model.OrderStatus, reason string) (model.Order, error) {
	if !target.Valid() {
		return model.Order{}, validationError("unknown order status %q", target)
	}

	var out model.Order
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := m.apply(ctx, r, actor, &o, target, reason); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// payment.succeeded を受けたとき。PENDINGのときだけACCEPTEDにする。
// 再配信などで既にACCEPTED以降なら何もしない。
func (m *OrderStateMachine) CompletePayment(ctx context.Context, orderID string) (model.Order, error) {
	var out model.Order
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusPending {
			log.Info().Str("order_id", orderID).Str("status", string(o.Status)).Msg("payment completion ignored, order is not pending")
			out = o
			return nil
		}
		if err := m.apply(ctx, r, eventActor(model.TopicPaymentSucceeded), &o, model.OrderStatusAccepted, ""); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// payment-auth.required を受けたとき。注文はPENDINGのまま、顧客への通知イベントだけ積む。
func (m *OrderStateMachine) HoldForPaymentMethod(ctx context.Context, orderID string, message string) error {
	return m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusPending {
			log.Info().Str("order_id", orderID).Str("status", string(o.Status)).Msg("auth required ignored, order is not pending")
			return nil
		}
		return appendEvent(ctx, r, m.ids, m.clock.Now(), model.AggregateOrder, o.ID, model.TopicOrderPending, model.OrderPendingEvent{
			OrderID:    o.ID,
			UserID:     o.UserID,
			StoreID:    o.StoreID,
			Message:    message,
			OccurredAt: m.clock.Now(),
		})
	})
}

// payment.refunded を受けたとき。全額返金済みなら注文をCANCELLEDにそろえる。
func (m *OrderStateMachine) ConfirmRefund(ctx context.Context, orderID string, remaining int64) error {
	if remaining > 0 {
		log.Info().Str("order_id", orderID).Int64("remaining", remaining).Msg("partial refund, order status unchanged")
		return nil
	}
	return m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == model.OrderStatusCancelled {
			return nil
		}
		if !o.Status.CanTransitionTo(model.OrderStatusCancelled) {
			log.Warn().Str("order_id", orderID).Str("status", string(o.Status)).Msg("refund confirmed but order cannot be cancelled")
			return nil
		}
		return m.apply(ctx, r, eventActor(model.TopicPaymentRefunded), &o, model.OrderStatusCancelled, "payment refunded")
	})
}

// 遷移・保存・イベント・監査ログを同じtxで行う
func (m *OrderStateMachine) apply(ctx context.Context, r repo.TxRepos, actor string, o *model.Order, target model.OrderStatus, reason string) error {
	now := m.clock.Now()
	before := o.Status

	if err := o.TransitionTo(target, now); err != nil {
		return err
	}
	if target == model.OrderStatusCancelled || target == model.OrderStatusRejected {
		o.CancelReason = reason
	}

	if err := r.Orders().UpdateStatus(ctx, *o, before); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return &model.InvalidTransitionError{From: before, To: target}
		}
		return err
	}

	switch target {
	case model.OrderStatusAccepted:
		if err := appendEvent(ctx, r, m.ids, now, model.AggregateOrder, o.ID, model.TopicOrderAccepted, model.OrderAcceptedEvent{
			OrderID:    o.ID,
			UserID:     o.UserID,
			StoreID:    o.StoreID,
			OccurredAt: now,
		}); err != nil {
			return err
		}
	case model.OrderStatusCancelled, model.OrderStatusRejected:
		if err := appendEvent(ctx, r, m.ids, now, model.AggregateOrder, o.ID, model.TopicOrderCancelled, model.OrderCancelledEvent{
			OrderID:    o.ID,
			UserID:     o.UserID,
			Status:     target,
			Reason:     reason,
			OccurredAt: now,
		}); err != nil {
			return err
		}
	}

	beforeJSON, _ := json.Marshal(map[string]string{"status": string(before)})
	afterJSON, _ := json.Marshal(map[string]string{"status": string(target), "reason": reason})
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		Actor:        actor,
		Action:       model.AuditActionUpdateOrderStatus,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   o.ID,
		BeforeJSON:   string(beforeJSON),
		AfterJSON:    string(afterJSON),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	log.Info().Str("order_id", o.ID).Str("from", string(before)).Str("to", string(target)).Str("actor", actor).Msg("order status changed")
	return nil
}
