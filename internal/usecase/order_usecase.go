package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

type OrderUsecase struct {
	tx     repo.TransactionManager
	orders repo.OrderRepository
	sm     *OrderStateMachine
	ids    IDGenerator
	clock  Clock
}

func NewOrderUsecase(tx repo.TransactionManager, orders repo.OrderRepository, sm *OrderStateMachine, ids IDGenerator, clock Clock) *OrderUsecase {
	return &OrderUsecase{tx: tx, orders: orders, sm: sm, ids: ids, clock: clock}
}

type PlaceOrderOptionInput struct {
	MenuOptionID string `json:"menu_option_id"`
	OptionName   string `json:"option_name"`
	OptionDetail string `json:"option_detail"`
	OptionPrice  int64  `json:"option_price"`
}

// メニュー情報は注文時点の値をそのまま保存する
type PlaceOrderItemInput struct {
	MenuID    string                  `json:"menu_id"`
	MenuName  string                  `json:"menu_name"`
	MenuPrice int64                   `json:"menu_price"`
	Quantity  int64                   `json:"quantity"`
	Options   []PlaceOrderOptionInput `json:"options"`
}

type PlaceOrderInput struct {
	StoreID        string
	PickupTime     time.Time
	PaymentMethod  model.PaymentMethod
	IdempotencyKey string
	Items          []PlaceOrderItemInput
}

type OrderItemOptionOutput struct {
	MenuOptionID string `json:"menu_option_id"`
	OptionName   string `json:"option_name"`
	OptionDetail string `json:"option_detail,omitempty"`
	OptionPrice  int64  `json:"option_price"`
}

type OrderItemOutput struct {
	MenuID    string                  `json:"menu_id"`
	MenuName  string                  `json:"menu_name"`
	MenuPrice int64                   `json:"menu_price"`
	Quantity  int64                   `json:"quantity"`
	Options   []OrderItemOptionOutput `json:"options"`
}

type OrderOutput struct {
	ID            string            `json:"id"`
	OrderNumber   string            `json:"order_number"`
	UserID        int64             `json:"user_id"`
	StoreID       string            `json:"store_id"`
	Status        string            `json:"status"`
	TotalPrice    int64             `json:"total_price"`
	PaymentMethod string            `json:"payment_method"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
	PickupTime    time.Time         `json:"pickup_time"`
	AcceptedAt    *time.Time        `json:"accepted_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []OrderItemOutput `json:"items"`
}

// 注文作成。注文・明細・order.created を1つのtxで書く。
// 同じユーザー・同じキーなら既存の注文を返す。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, p Principal, in PlaceOrderInput) (OrderOutput, error) {
	if p.UserID <= 0 {
		return OrderOutput{}, ErrForbidden
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, validationError("invalid idempotency key")
	}
	if strings.TrimSpace(in.StoreID) == "" {
		return OrderOutput{}, validationError("store_id is required")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = model.PaymentMethodCreditCard
	}
	if !in.PaymentMethod.Valid() {
		return OrderOutput{}, validationError("invalid payment method %q", in.PaymentMethod)
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, validationError("items are required")
	}

	now := u.clock.Now()
	orderID := u.ids.NewID()

	items := make([]model.OrderItem, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		item := model.OrderItem{
			ID:        u.ids.NewID(),
			OrderID:   orderID,
			MenuID:    it.MenuID,
			MenuName:  it.MenuName,
			MenuPrice: it.MenuPrice,
			Quantity:  it.Quantity,
			CreatedAt: now,
		}
		for _, op := range it.Options {
			item.Options = append(item.Options, model.OrderItemOption{
				ID:           u.ids.NewID(),
				OrderItemID:  item.ID,
				MenuOptionID: op.MenuOptionID,
				OptionName:   op.OptionName,
				OptionDetail: op.OptionDetail,
				OptionPrice:  op.OptionPrice,
			})
		}
		if err := item.Validate(); err != nil {
			return OrderOutput{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if item.Quantity == 0 {
			return OrderOutput{}, validationError("quantity must be >= 1")
		}
		items = append(items, item)
		total += item.Subtotal()
	}

	pickup := in.PickupTime
	if pickup.IsZero() {
		pickup = now
	}

	order := model.Order{
		ID:             orderID,
		UserID:         p.UserID,
		StoreID:        in.StoreID,
		OrderNumber:    orderNumber(now, orderID),
		Status:         model.OrderStatusPending,
		TotalPrice:     total,
		PaymentMethod:  string(in.PaymentMethod),
		IdempotencyKey: key,
		PickupTime:     pickup,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var out OrderOutput
	var replayed bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, p.UserID, key)
		if err != nil {
			return err
		}
		if found {
			out = toOrderOutput(existing)
			replayed = true
			return nil
		}

		if err := r.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
			return err
		}
		if err := appendEvent(ctx, r, u.ids, now, model.AggregateOrder, order.ID, model.TopicOrderCreated, model.OrderCreatedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			StoreID:       order.StoreID,
			Amount:        order.TotalPrice,
			PaymentMethod: order.PaymentMethod,
			Title:         orderTitle(items),
			OccurredAt:    now,
		}); err != nil {
			return err
		}

		order.Items = items
		out = toOrderOutput(order)
		return nil
	})

	//同時に同じキーが入ったときは、もう一回検索して同じ結果を返す
	if errors.Is(err, repo.ErrDuplicate) {
		existing, found, ferr := u.orders.FindByIdempotencyKey(ctx, p.UserID, key)
		if ferr == nil && found {
			return toOrderOutput(existing), nil
		}
		return OrderOutput{}, validationError("idempotency key conflict")
	}
	if err != nil {
		return OrderOutput{}, err
	}

	if !replayed {
		log.Info().Str("order_id", out.ID).Int64("user_id", p.UserID).Int64("total", out.TotalPrice).Msg("order placed")
	}
	return out, nil
}

// サービス間の参照用。権限は呼び出し側（/internal）で見る
func (u *OrderUsecase) Get(ctx context.Context, orderID string) (OrderOutput, error) {
	o, err := u.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	return toOrderOutput(o), nil
}

// 注文者本人か、その店舗のスタッフだけ
func (u *OrderUsecase) Detail(ctx context.Context, p Principal, orderID string) (OrderOutput, error) {
	o, err := u.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	if !p.CanReadOrder(o) {
		return OrderOutput{}, ErrForbidden
	}
	return toOrderOutput(o), nil
}

func (u *OrderUsecase) FindByNumber(ctx context.Context, p Principal, orderNumber string) (OrderOutput, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return OrderOutput{}, validationError("order number is required")
	}
	o, err := u.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return OrderOutput{}, err
	}
	if !p.CanReadOrder(o) {
		return OrderOutput{}, ErrForbidden
	}
	return toOrderOutput(o), nil
}

type OrderListInput struct {
	// 受け取り前のものだけ
	ActiveOnly bool
	Status     string
	// 特権ロールが店舗を指定するとき
	StoreID string
	Page    int
	Limit   int
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 自分の注文の一覧
func (u *OrderUsecase) ListMine(ctx context.Context, p Principal, in OrderListInput) (OrderListOutput, error) {
	if p.UserID <= 0 {
		return OrderListOutput{}, ErrForbidden
	}
	userID := p.UserID
	return u.list(ctx, repo.OrderListFilter{UserID: &userID}, in)
}

// 店舗に入った注文の一覧。OWNER/MANAGERは担当店舗だけ
func (u *OrderUsecase) ListStore(ctx context.Context, p Principal, in OrderListInput) (OrderListOutput, error) {
	storeID := p.StoreID
	if p.IsPrivileged() {
		storeID = strings.TrimSpace(in.StoreID)
		if storeID == "" {
			return OrderListOutput{}, validationError("store_id is required")
		}
	}
	if !p.CanManageStore(storeID) {
		return OrderListOutput{}, ErrForbidden
	}
	return u.list(ctx, repo.OrderListFilter{StoreID: storeID}, in)
}

func (u *OrderUsecase) list(ctx context.Context, f repo.OrderListFilter, in OrderListInput) (OrderListOutput, error) {
	switch {
	case strings.TrimSpace(in.Status) != "":
		st, ok := model.ParseOrderStatus(strings.TrimSpace(in.Status))
		if !ok {
			return OrderListOutput{}, validationError("invalid status %q", in.Status)
		}
		f.Statuses = []model.OrderStatus{st}
	case in.ActiveOnly:
		f.Statuses = model.ActiveOrderStatuses()
	}

	f.Page, f.Limit = in.Page, in.Limit
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	orders, total, err := u.orders.List(ctx, f)
	if err != nil {
		return OrderListOutput{}, err
	}
	items := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderOutput(o))
	}
	return OrderListOutput{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// 店舗側のステータス変更。担当店舗の注文だけ
func (u *OrderUsecase) UpdateStatus(ctx context.Context, p Principal, orderID string, status string, reason string) (OrderOutput, error) {
	target, ok := model.ParseOrderStatus(strings.TrimSpace(status))
	if !ok {
		return OrderOutput{}, validationError("invalid status %q", status)
	}
	if !p.IsPrivileged() {
		current, err := u.orders.FindByID(ctx, orderID)
		if err != nil {
			return OrderOutput{}, err
		}
		if !p.CanManageStore(current.StoreID) {
			return OrderOutput{}, ErrForbidden
		}
	}
	o, err := u.sm.Transition(ctx, p.Actor(), orderID, target, reason)
	if err != nil {
		return OrderOutput{}, err
	}
	return toOrderOutput(o), nil
}

// 顧客による取消。本人の注文だけ。
func (u *OrderUsecase) Cancel(ctx context.Context, p Principal, orderID string, reason string) (OrderOutput, error) {
	o, err := u.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	if !p.CanAccess(o.UserID) {
		return OrderOutput{}, ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by customer"
	}
	updated, err := u.sm.Transition(ctx, p.Actor(), orderID, model.OrderStatusCancelled, reason)
	if err != nil {
		return OrderOutput{}, err
	}
	return toOrderOutput(updated), nil
}

func orderNumber(now time.Time, orderID string) string {
	short := strings.ReplaceAll(orderID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), strings.ToUpper(short))
}

// ゲートウェイに渡す注文名
func orderTitle(items []model.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) == 1 {
		return items[0].MenuName
	}
	return fmt.Sprintf("%s and %d more", items[0].MenuName, len(items)-1)
}

func toOrderOutput(o model.Order) OrderOutput {
	items := make([]OrderItemOutput, 0, len(o.Items))
	for _, it := range o.Items {
		opts := make([]OrderItemOptionOutput, 0, len(it.Options))
		for _, op := range it.Options {
			opts = append(opts, OrderItemOptionOutput{
				MenuOptionID: op.MenuOptionID,
				OptionName:   op.OptionName,
				OptionDetail: op.OptionDetail,
				OptionPrice:  op.OptionPrice,
			})
		}
		items = append(items, OrderItemOutput{
			MenuID:    it.MenuID,
			MenuName:  it.MenuName,
			MenuPrice: it.MenuPrice,
			Quantity:  it.Quantity,
			Options:   opts,
		})
	}
	return OrderOutput{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		StoreID:       o.StoreID,
		Status:        string(o.Status),
		TotalPrice:    o.TotalPrice,
		PaymentMethod: o.PaymentMethod,
		CancelReason:  o.CancelReason,
		PickupTime:    o.PickupTime,
		AcceptedAt:    o.AcceptedAt,
		CreatedAt:     o.CreatedAt,
		Items:         items,
	}
}
