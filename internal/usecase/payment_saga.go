package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spot/internal/domain/model"
	"spot/internal/gateway"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// 注文サービスへの存在確認（POST /payments 用）
type OrderDirectory interface {
	Exists(ctx context.Context, orderID string) (bool, error)
}

// 決済1件の ready -> approve -> success/failed と、取消・返金を進める。
// 状態は payment_histories の最新行。ゲートウェイ呼び出し中はtxを持たない。
type PaymentSaga struct {
	tx        repo.TransactionManager
	payments  repo.PaymentRepository
	histories repo.PaymentHistoryRepository
	billing   repo.BillingAuthRepository
	gw        gateway.PaymentGateway
	orders    OrderDirectory
	ids       IDGenerator
	clock     Clock
}

// DI
func NewPaymentSaga(
	tx repo.TransactionManager,
	payments repo.PaymentRepository,
	histories repo.PaymentHistoryRepository,
	billing repo.BillingAuthRepository,
	gw gateway.PaymentGateway,
	orders OrderDirectory,
	ids IDGenerator,
	clock Clock,
) *PaymentSaga {
	return &PaymentSaga{
		tx:        tx,
		payments:  payments,
		histories: histories,
		billing:   billing,
		gw:        gw,
		orders:    orders,
		ids:       ids,
		clock:     clock,
	}
}

type ReadyInput struct {
	OrderID        string
	UserID         int64
	Title          string
	Content        string
	Method         model.PaymentMethod
	Amount         int64
	IdempotencyKey string
}

// AuthRequiredは決済手段の再登録が必要（payment-auth.required を積んだ）
type ApproveResult struct {
	PaymentID    string              `json:"payment_id"`
	OrderID      string              `json:"order_id"`
	Status       model.PaymentStatus `json:"status"`
	PaymentKey   string              `json:"payment_key,omitempty"`
	AuthRequired bool                `json:"auth_required"`
	Reason       string              `json:"reason,omitempty"`
}

// 決済を作ってREADYを積む。
// 同じidempotency keyなら既存のIDを返す。別キーで有効な決済があればErrDuplicatePayment。
func (s *PaymentSaga) Ready(ctx context.Context, in ReadyInput) (string, error) {
	if in.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	if strings.TrimSpace(in.OrderID) == "" {
		return "", validationError("order_id is required")
	}
	if in.UserID <= 0 {
		return "", validationError("user_id is required")
	}
	if in.Method == "" {
		in.Method = model.PaymentMethodCreditCard
	}
	if !in.Method.Valid() {
		return "", validationError("invalid payment method %q", in.Method)
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return "", validationError("invalid idempotency key")
	}
	if key == "" {
		key = s.ids.NewID()
	}

	now := s.clock.Now()
	var paymentID string
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, found, err := r.Payments().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if found {
			if existing.OrderID != in.OrderID {
				return validationError("idempotency key is bound to another order")
			}
			paymentID = existing.ID
			return nil
		}

		//有効な決済があれば弾く（ロック付き）
		if _, err := r.Payments().FindActiveByOrderIDForUpdate(ctx, in.OrderID); err == nil {
			return ErrDuplicatePayment
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		orderID := in.OrderID
		p := model.Payment{
			ID:             s.ids.NewID(),
			OrderID:        in.OrderID,
			ActiveOrderID:  &orderID,
			UserID:         in.UserID,
			Title:          in.Title,
			Content:        in.Content,
			Method:         in.Method,
			Amount:         in.Amount,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		//同時に入った場合はユニーク制約で落ちる
		if err := r.Payments().Create(ctx, p); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrDuplicatePayment
			}
			return err
		}
		if err := r.PaymentHistories().Append(ctx, model.PaymentHistory{
			PaymentID: p.ID,
			Status:    model.PaymentStatusReady,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		paymentID = p.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("payment_id", paymentID).Str("order_id", in.OrderID).Int64("amount", in.Amount).Msg("payment ready")
	return paymentID, nil
}

// HTTP経由のready。注文が存在するか先に確認する。
func (s *PaymentSaga) RequestPayment(ctx context.Context, p Principal, in ReadyInput) (string, error) {
	if !p.IsPrivileged() {
		in.UserID = p.UserID
	}
	if s.orders != nil && strings.TrimSpace(in.OrderID) != "" {
		ok, err := s.orders.Exists(ctx, in.OrderID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrOrderNotFound
		}
	}
	return s.Ready(ctx, in)
}

// HTTP経由のapprove。本人の決済だけ。
func (s *PaymentSaga) Confirm(ctx context.Context, p Principal, paymentID string) (ApproveResult, error) {
	pay, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return ApproveResult{}, err
	}
	if !p.CanAccess(pay.UserID) {
		return ApproveResult{}, ErrForbidden
	}
	return s.Approve(ctx, paymentID)
}

// READYのときだけ進める。
// IN_PROGRESSを確定してからゲートウェイを呼び、結果をもう1つのtxで書く。
// 失敗（billing key なしを含む）は FAILED + payment-auth.required で、エラーにはしない。
func (s *PaymentSaga) Approve(ctx context.Context, paymentID string) (ApproveResult, error) {
	var p model.Payment
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		locked, err := r.Payments().FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, paymentID)
		if err != nil {
			return err
		}
		if latest.Status != model.PaymentStatusReady {
			return fmt.Errorf("%w: approve from %s", ErrInvalidPaymentState, latest.Status)
		}
		p = locked
		return appendHistory(ctx, r, s.clock.Now(), p.ID, latest.Status, model.PaymentHistory{Status: model.PaymentStatusInProgress})
	})
	if err != nil {
		return ApproveResult{}, err
	}
	log.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).Msg("payment in progress")

	res, err := s.charge(ctx, p)
	if err != nil {
		if !errors.Is(err, ErrBillingKeyNotFound) && !isGatewayError(err) {
			//IN_PROGRESSのまま。Reconcileが片付ける
			return ApproveResult{}, err
		}
		log.Warn().Err(err).Str("payment_id", p.ID).Str("order_id", p.OrderID).Msg("payment approval failed")
		if ferr := s.failApproval(ctx, p, err.Error()); ferr != nil {
			return ApproveResult{}, ferr
		}
		return ApproveResult{
			PaymentID:    p.ID,
			OrderID:      p.OrderID,
			Status:       model.PaymentStatusFailed,
			AuthRequired: true,
			Reason:       err.Error(),
		}, nil
	}

	if err := s.completeApproval(ctx, p, res.PaymentKey, res.ApprovedAt); err != nil {
		return ApproveResult{}, err
	}
	log.Info().Str("payment_id", p.ID).Str("order_id", p.OrderID).Msg("payment succeeded")
	return ApproveResult{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Status:     model.PaymentStatusSuccess,
		PaymentKey: res.PaymentKey,
	}, nil
}

func (s *PaymentSaga) charge(ctx context.Context, p model.Payment) (gateway.ChargeResult, error) {
	auth, err := s.billing.FindActiveByUserID(ctx, p.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return gateway.ChargeResult{}, ErrBillingKeyNotFound
	}
	if err != nil {
		return gateway.ChargeResult{}, err
	}

	res, err := s.gw.ChargeBilling(ctx, gateway.ChargeRequest{
		BillingKey:     auth.BillingKey,
		CustomerKey:    auth.CustomerKey,
		OrderID:        gatewayOrderID(p),
		OrderName:      p.Title,
		Amount:         p.Amount,
		IdempotencyKey: "charge-" + p.ID,
	})
	if err != nil {
		return gateway.ChargeResult{}, err
	}
	if res.Status != "" && res.Status != gateway.StatusDone {
		return gateway.ChargeResult{}, fmt.Errorf("%w: charge status %s", gateway.ErrGatewayRejected, res.Status)
	}
	return res, nil
}

// プロバイダに渡す注文ID。決済1件ごとに一意
func gatewayOrderID(p model.Payment) string {
	return p.ID
}

// SUCCESS + paymentKey + payment.succeeded を1つのtxで
func (s *PaymentSaga) completeApproval(ctx context.Context, p model.Payment, paymentKey string, approvedAt time.Time) error {
	now := s.clock.Now()
	if approvedAt.IsZero() {
		approvedAt = now
	}
	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Payments().FindByIDForUpdate(ctx, p.ID); err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		if latest.Status != model.PaymentStatusInProgress {
			return fmt.Errorf("%w: complete from %s", ErrInvalidPaymentState, latest.Status)
		}

		if err := r.PaymentKeys().SaveIfAbsent(ctx, model.PaymentKey{
			PaymentID:   p.ID,
			PaymentKey:  paymentKey,
			ConfirmedAt: approvedAt,
		}); err != nil {
			return err
		}
		key := paymentKey
		if err := appendHistory(ctx, r, now, p.ID, latest.Status, model.PaymentHistory{
			Status:     model.PaymentStatusSuccess,
			PaymentKey: &key,
		}); err != nil {
			return err
		}
		return appendEvent(ctx, r, s.ids, now, model.AggregatePayment, p.ID, model.TopicPaymentSucceeded, model.PaymentSucceededEvent{
			OrderID:    p.OrderID,
			UserID:     p.UserID,
			PaymentID:  p.ID,
			Amount:     p.Amount,
			OccurredAt: now,
		})
	})
}

// FAILED + 有効枠の解放 + payment-auth.required を1つのtxで
func (s *PaymentSaga) failApproval(ctx context.Context, p model.Payment, reason string) error {
	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Payments().FindByIDForUpdate(ctx, p.ID); err != nil {
			return err
		}
		latest, err := r.PaymentHistories().Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		if latest.Status != model.PaymentStatusInProgress {
			return fmt.Errorf("%w: fail from %s", ErrInvalidPaymentState, latest.Status)
		}

		if err := appendHistory(ctx, r, now, p.ID, latest.Status, model.PaymentHistory{
			Status: model.PaymentStatusFailed,
			Reason: reason,
		}); err != nil {
			return err
		}
		if err := r.Payments().ReleaseActive(ctx, p.ID); err != nil {
			return err
		}
		return appendEvent(ctx, r, s.ids, now, model.AggregatePayment, p.ID, model.TopicAuthRequired, model.AuthRequiredEvent{
			OrderID:    p.OrderID,
			UserID:     p.UserID,
			PaymentID:  p.ID,
			Message:    "payment method registration required: " + reason,
			OccurredAt: now,
		})
	})
}

// 遷移表を確認して1行積む
func appendHistory(ctx context.Context, r repo.TxRepos, now time.Time, paymentID string, from model.PaymentStatus, h model.PaymentHistory) error {
	if !from.CanTransitionTo(h.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentState, from, h.Status)
	}
	h.PaymentID = paymentID
	h.CreatedAt = now
	return r.PaymentHistories().Append(ctx, h)
}

func isGatewayError(err error) bool {
	return errors.Is(err, gateway.ErrGatewayUnavailable) ||
		errors.Is(err, gateway.ErrGatewayRejected) ||
		errors.Is(err, gateway.ErrGatewayTimeout)
}
