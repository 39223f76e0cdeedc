package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"spot/internal/domain/model"
	"spot/internal/gateway"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// CancelAmountが0なら残額すべて
type CancelInput struct {
	PaymentID    string
	Reason       string
	CancelAmount int64
	Actor        string
}

type CancelResult struct {
	PaymentID       string              `json:"payment_id"`
	OrderID         string              `json:"order_id"`
	Status          model.PaymentStatus `json:"status"`
	CancelledAmount int64               `json:"cancelled_amount"`
	Remaining       int64               `json:"remaining"`
}

// HTTP経由の取消。本人の決済だけ。
func (s *PaymentSaga) RequestCancel(ctx context.Context, p Principal, paymentID string, reason string, amount int64) (CancelResult, error) {
	pay, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return CancelResult{}, err
	}
	if !p.CanAccess(pay.UserID) {
		return CancelResult{}, ErrForbidden
	}
	return s.Cancel(ctx, CancelInput{
		PaymentID:    paymentID,
		Reason:       reason,
		CancelAmount: amount,
		Actor:        p.Actor(),
	})
}

// CANCEL_IN_PROGRESS を確定してからゲートウェイの取消を呼ぶ。
// 失敗したら FAILED を積んでエラーを返す（ここではリトライしない）。
func (s *PaymentSaga) Cancel(ctx context.Context, in CancelInput) (CancelResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return CancelResult{}, validationError("cancel reason is required")
	}
	if in.CancelAmount < 0 {
		return CancelResult{}, ErrInvalidAmount
	}

	var (
		p      model.Payment
		key    model.PaymentKey
		amount int64
	)
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		locked, err := r.Payments().FindByIDForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		k, err := r.PaymentKeys().FindByPaymentID(ctx, in.PaymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPaymentKeyNotFound
		}
		if err != nil {
			return err
		}

		remaining := locked.RemainingAmount()
		if remaining <= 0 {
			return fmt.Errorf("%w: nothing left to cancel", ErrInvalidPaymentState)
		}
		amt := in.CancelAmount
		if amt == 0 {
			amt = remaining
		}
		if amt > remaining {
			return fmt.Errorf("%w: cancel amount %d exceeds remaining %d", ErrInvalidAmount, amt, remaining)
		}

		if err := appendHistory(ctx, r, s.clock.Now(), locked.ID, latest.Status, model.PaymentHistory{
			Status:       model.PaymentStatusCancelInProgress,
			CancelAmount: amt,
			Reason:       reason,
		}); err != nil {
			return err
		}
		p, key, amount = locked, k, amt
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	req := gateway.CancelRequest{
		PaymentKey:     key.PaymentKey,
		Reason:         reason,
		IdempotencyKey: "cancel-" + s.ids.NewID(),
	}
	//一度も取り消していない全額取消は金額を送らない
	if !(p.CancelledAmount == 0 && amount == p.Amount) {
		req.CancelAmount = amount
	}

	if _, gerr := s.gw.Cancel(ctx, req); gerr != nil {
		log.Warn().Err(gerr).Str("payment_id", p.ID).Int64("amount", amount).Msg("payment cancel failed")
		if ferr := s.failCancel(ctx, p, gerr.Error()); ferr != nil {
			log.Error().Err(ferr).Str("payment_id", p.ID).Msg("failed to record cancel failure")
		}
		return CancelResult{}, fmt.Errorf("cancel payment %s: %w", p.ID, gerr)
	}

	remaining, err := s.completeCancel(ctx, p, amount, reason, in.Actor)
	if err != nil {
		return CancelResult{}, err
	}
	log.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).Int64("amount", amount).Int64("remaining", remaining).Msg("payment cancelled")

	return CancelResult{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		Status:          model.PaymentStatusCancelled,
		CancelledAmount: amount,
		Remaining:       remaining,
	}, nil
}

// order.cancelled の補償。有効な決済がなければ repository.ErrNotFound。
// 承認前(READY)なら無効化だけ、承認済みなら残額を返金する。
func (s *PaymentSaga) RefundByOrderID(ctx context.Context, orderID string, reason string) (CancelResult, error) {
	p, err := s.payments.FindActiveByOrderID(ctx, orderID)
	if err != nil {
		return CancelResult{}, err
	}
	latest, err := s.histories.Latest(ctx, p.ID)
	if err != nil {
		return CancelResult{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "order cancelled"
	}

	switch latest.Status {
	case model.PaymentStatusReady:
		return s.void(ctx, p, reason)
	case model.PaymentStatusInProgress, model.PaymentStatusCancelInProgress:
		return CancelResult{}, fmt.Errorf("%w: refund while %s", ErrInvalidPaymentState, latest.Status)
	default:
		return s.Cancel(ctx, CancelInput{
			PaymentID: p.ID,
			Reason:    reason,
			Actor:     eventActor(model.TopicOrderCancelled),
		})
	}
}

// 承認前の決済を無効化する（ゲートウェイは呼ばない）
func (s *PaymentSaga) void(ctx context.Context, p model.Payment, reason string) (CancelResult, error) {
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Payments().FindByIDForUpdate(ctx, p.ID); err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		if latest.Status != model.PaymentStatusReady {
			return fmt.Errorf("%w: void from %s", ErrInvalidPaymentState, latest.Status)
		}
		if err := appendHistory(ctx, r, s.clock.Now(), p.ID, latest.Status, model.PaymentHistory{
			Status: model.PaymentStatusFailed,
			Reason: "voided: " + reason,
		}); err != nil {
			return err
		}
		return r.Payments().ReleaseActive(ctx, p.ID)
	})
	if err != nil {
		return CancelResult{}, err
	}
	log.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).Msg("payment voided before approval")
	return CancelResult{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Status:    model.PaymentStatusFailed,
		Remaining: p.RemainingAmount(),
	}, nil
}

// CANCELLED + 累計更新 + (全額なら枠解放) + payment.refunded + 監査ログ
func (s *PaymentSaga) completeCancel(ctx context.Context, p model.Payment, amount int64, reason string, actor string) (int64, error) {
	now := s.clock.Now()
	var remaining int64
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		locked, err := r.Payments().FindByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		if latest.Status != model.PaymentStatusCancelInProgress {
			return fmt.Errorf("%w: cancel complete from %s", ErrInvalidPaymentState, latest.Status)
		}

		if err := appendHistory(ctx, r, now, p.ID, latest.Status, model.PaymentHistory{
			Status:       model.PaymentStatusCancelled,
			CancelAmount: amount,
			Reason:       reason,
		}); err != nil {
			return err
		}
		if err := r.Payments().AddCancelledAmount(ctx, p.ID, amount); err != nil {
			return err
		}
		remaining = locked.RemainingAmount() - amount
		if remaining == 0 {
			if err := r.Payments().ReleaseActive(ctx, p.ID); err != nil {
				return err
			}
		}

		if err := appendEvent(ctx, r, s.ids, now, model.AggregatePayment, p.ID, model.TopicPaymentRefunded, model.PaymentRefundedEvent{
			OrderID:      p.OrderID,
			PaymentID:    p.ID,
			CancelAmount: amount,
			Remaining:    remaining,
			OccurredAt:   now,
		}); err != nil {
			return err
		}

		beforeJSON, _ := json.Marshal(map[string]int64{"cancelled_amount": locked.CancelledAmount})
		afterJSON, _ := json.Marshal(map[string]int64{"cancelled_amount": locked.CancelledAmount + amount, "remaining": remaining})
		return r.AuditLogs().Create(ctx, model.AuditLog{
			Actor:        actor,
			Action:       model.AuditActionCancelPayment,
			ResourceType: model.AuditResourcePayment,
			ResourceID:   p.ID,
			BeforeJSON:   string(beforeJSON),
			AfterJSON:    string(afterJSON),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (s *PaymentSaga) failCancel(ctx context.Context, p model.Payment, reason string) error {
	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Payments().FindByIDForUpdate(ctx, p.ID); err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		return appendHistory(ctx, r, s.clock.Now(), p.ID, latest.Status, model.PaymentHistory{
			Status: model.PaymentStatusFailed,
			Reason: "cancel failed: " + reason,
		})
	})
}
