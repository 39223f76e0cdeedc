package repository

import (
	"context"

	"spot/internal/domain/model"
)

type OrderItemRepository interface {
	// オプションも一緒に作成する
	CreateBulk(ctx context.Context, orderID string, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID string) ([]model.OrderItem, error)
}
