package repository

import (
	"context"

	"spot/internal/domain/model"
)

// 一覧の絞り込み。UserID/StoreIDは指定したものだけ効く。Statusesが空なら全ステータス
type OrderListFilter struct {
	UserID   *int64
	StoreID  string
	Statuses []model.OrderStatus
	Page     int
	Limit    int
}

type OrderRepository interface {
	//明細・オプション込みで1件取得
	FindByID(ctx context.Context, orderID string) (model.Order, error)
	//行ロック付きで取得（明細は読まない）
	FindByIDForUpdate(ctx context.Context, orderID string) (model.Order, error)
	Create(ctx context.Context, order model.Order) error

	//statusがfromのときだけ更新する。他の更新が先ならErrConflict
	UpdateStatus(ctx context.Context, order model.Order, from model.OrderStatus) error

	//注文番号で1件取得
	FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error)

	//新しい順。totalは絞り込み後の件数
	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
}
