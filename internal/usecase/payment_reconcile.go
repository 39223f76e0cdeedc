package usecase

import (
	"context"
	"errors"
	"time"

	"spot/internal/domain/model"
	"spot/internal/gateway"

	"github.com/rs/zerolog/log"
)

type ReconcileReport struct {
	Checked   int `json:"checked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

const reconcileBatch = 100

// IN_PROGRESSのまま olderThan 以上止まっている決済を、ゲートウェイ側の記録に合わせる。
// 金額まで一致する課金済みならSUCCESS。記録がない・未課金の状態ならFAILED（payment-auth.required も積む）。
// それ以外（金額違い、途中の状態）はFAILEDにせず残す。
func (s *PaymentSaga) Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileReport, error) {
	var rep ReconcileReport
	before := s.clock.Now().Add(-olderThan)

	ids, err := s.histories.ListPaymentIDsByLatestStatus(ctx, model.PaymentStatusInProgress, before, reconcileBatch)
	if err != nil {
		return rep, err
	}

	for _, id := range ids {
		rep.Checked++
		p, err := s.payments.FindByID(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("payment_id", id).Msg("reconcile: load payment failed")
			rep.Skipped++
			continue
		}

		rec, err := s.gw.FindByOrderID(ctx, gatewayOrderID(p))
		switch {
		case errors.Is(err, gateway.ErrPaymentNotFound):
			if s.reconcileFail(ctx, p, "not charged at gateway") {
				rep.Failed++
			} else {
				rep.Skipped++
			}
		case err != nil:
			log.Warn().Err(err).Str("payment_id", id).Msg("reconcile: gateway lookup failed")
			rep.Skipped++
		case rec.Status == gateway.StatusDone && rec.TotalAmount == p.Amount:
			if cerr := s.completeApproval(ctx, p, rec.PaymentKey, rec.ApprovedAt); cerr != nil {
				log.Error().Err(cerr).Str("payment_id", id).Msg("reconcile: complete failed")
				rep.Skipped++
				continue
			}
			rep.Succeeded++
		case gateway.IsNotCharged(rec.Status):
			if s.reconcileFail(ctx, p, "gateway status "+rec.Status) {
				rep.Failed++
			} else {
				rep.Skipped++
			}
		default:
			//課金済みで金額が合わない等。枠は解放せず人が確認する
			log.Error().
				Str("payment_id", id).
				Str("order_id", p.OrderID).
				Str("gateway_status", rec.Status).
				Int64("gateway_amount", rec.TotalAmount).
				Int64("amount", p.Amount).
				Msg("reconcile: gateway record does not match, needs manual review")
			rep.Skipped++
		}
	}

	if rep.Checked > 0 {
		log.Info().Int("checked", rep.Checked).Int("succeeded", rep.Succeeded).Int("failed", rep.Failed).Int("skipped", rep.Skipped).Msg("payment reconcile finished")
	}
	return rep, nil
}

func (s *PaymentSaga) reconcileFail(ctx context.Context, p model.Payment, reason string) bool {
	if err := s.failApproval(ctx, p, reason); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("reconcile: fail failed")
		return false
	}
	return true
}

func (s *PaymentSaga) StartReconcile(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, olderThan); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("payment reconcile failed")
			}
		}
	}
}
