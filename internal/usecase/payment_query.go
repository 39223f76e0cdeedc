package usecase

import (
	"context"
	"time"

	"spot/internal/domain/model"
)

type PaymentOutput struct {
	ID              string              `json:"id"`
	OrderID         string              `json:"order_id"`
	UserID          int64               `json:"user_id"`
	Title           string              `json:"title"`
	Method          model.PaymentMethod `json:"method"`
	Amount          int64               `json:"amount"`
	CancelledAmount int64               `json:"cancelled_amount"`
	Status          model.PaymentStatus `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
}

type PaymentHistoryOutput struct {
	Status       model.PaymentStatus `json:"status"`
	PaymentKey   string              `json:"payment_key,omitempty"`
	CancelAmount int64               `json:"cancel_amount,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// 注文に対する最新の決済と、その現在の状態
func (s *PaymentSaga) FindByOrderID(ctx context.Context, orderID string) (PaymentOutput, error) {
	p, err := s.payments.FindLatestByOrderID(ctx, orderID)
	if err != nil {
		return PaymentOutput{}, err
	}
	latest, err := s.histories.Latest(ctx, p.ID)
	if err != nil {
		return PaymentOutput{}, err
	}
	return PaymentOutput{
		ID:              p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		Title:           p.Title,
		Method:          p.Method,
		Amount:          p.Amount,
		CancelledAmount: p.CancelledAmount,
		Status:          latest.Status,
		CreatedAt:       p.CreatedAt,
	}, nil
}

// 古い順の台帳
func (s *PaymentSaga) History(ctx context.Context, p Principal, paymentID string) ([]PaymentHistoryOutput, error) {
	pay, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(pay.UserID) {
		return nil, ErrForbidden
	}

	hs, err := s.histories.ListByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	out := make([]PaymentHistoryOutput, 0, len(hs))
	for _, h := range hs {
		o := PaymentHistoryOutput{
			Status:       h.Status,
			CancelAmount: h.CancelAmount,
			Reason:       h.Reason,
			CreatedAt:    h.CreatedAt,
		}
		if h.PaymentKey != nil {
			o.PaymentKey = *h.PaymentKey
		}
		out = append(out, o)
	}
	return out, nil
}
