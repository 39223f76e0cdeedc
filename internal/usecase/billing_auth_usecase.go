package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"spot/internal/domain/model"
	"spot/internal/gateway"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// 自動決済の手段（billing key）を登録する
type BillingAuthUsecase struct {
	tx    repo.TransactionManager
	gw    gateway.PaymentGateway
	ids   IDGenerator
	clock Clock
}

func NewBillingAuthUsecase(tx repo.TransactionManager, gw gateway.PaymentGateway, ids IDGenerator, clock Clock) *BillingAuthUsecase {
	return &BillingAuthUsecase{tx: tx, gw: gw, ids: ids, clock: clock}
}

type RegisterBillingInput struct {
	AuthKey     string
	CustomerKey string
}

type BillingAuthOutput struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	CustomerKey string    `json:"customer_key"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ゲートウェイでbilling keyを発行し、以前のものを無効にして保存する
func (u *BillingAuthUsecase) Register(ctx context.Context, p Principal, in RegisterBillingInput) (BillingAuthOutput, error) {
	if p.UserID <= 0 {
		return BillingAuthOutput{}, ErrForbidden
	}
	authKey := strings.TrimSpace(in.AuthKey)
	customerKey := strings.TrimSpace(in.CustomerKey)
	if authKey == "" || customerKey == "" {
		return BillingAuthOutput{}, validationError("auth_key and customer_key are required")
	}

	issued, err := u.gw.IssueBillingKey(ctx, gateway.IssueBillingKeyRequest{
		AuthKey:     authKey,
		CustomerKey: customerKey,
	})
	if err != nil {
		return BillingAuthOutput{}, err
	}

	now := u.clock.Now()
	auth := model.UserBillingAuth{
		ID:          u.ids.NewID(),
		UserID:      p.UserID,
		CustomerKey: customerKey,
		AuthKey:     authKey,
		BillingKey:  issued.BillingKey,
		IsActive:    true,
		IssuedAt:    now,
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.BillingAuths().DeactivateAllByUserID(ctx, p.UserID); err != nil {
			return err
		}
		if err := r.BillingAuths().Create(ctx, auth); err != nil {
			return err
		}
		afterJSON, _ := json.Marshal(map[string]string{"customer_key": customerKey})
		return r.AuditLogs().Create(ctx, model.AuditLog{
			Actor:        p.Actor(),
			Action:       model.AuditActionRegisterBilling,
			ResourceType: model.AuditResourceUser,
			ResourceID:   auth.ID,
			BeforeJSON:   "{}",
			AfterJSON:    string(afterJSON),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return BillingAuthOutput{}, err
	}

	log.Info().Int64("user_id", p.UserID).Str("billing_auth_id", auth.ID).Msg("billing key registered")
	return BillingAuthOutput{
		ID:          auth.ID,
		UserID:      auth.UserID,
		CustomerKey: auth.CustomerKey,
		IssuedAt:    auth.IssuedAt,
	}, nil
}
