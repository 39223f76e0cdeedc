package usecase_test

import (
	"context"
	"testing"

	"spot/internal/domain/model"
	infraRepo "spot/internal/infra/repository"
	repo "spot/internal/repository"
	"spot/internal/testutil"
	"spot/internal/usecase"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// =====================
// fixture（sqlite + 固定時計 + 偽ゲートウェイ）
// =====================

type fixture struct {
	db      *gorm.DB
	clock   *testutil.FixedClock
	gw      *testutil.FakeGateway
	txm     repo.TransactionManager
	repos   repo.TxRepos
	sm      *usecase.OrderStateMachine
	orders  *usecase.OrderUsecase
	saga    *usecase.PaymentSaga
	billing *usecase.BillingAuthUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	clock := testutil.NewFixedClock()
	gw := testutil.NewFakeGateway()
	ids := testutil.UUIDs{}
	txm := infraRepo.NewTxManagerGorm(gdb)
	repos := infraRepo.NewTxRepos(gdb)

	sm := usecase.NewOrderStateMachine(txm, ids, clock)
	return &fixture{
		db:      gdb,
		clock:   clock,
		gw:      gw,
		txm:     txm,
		repos:   repos,
		sm:      sm,
		orders:  usecase.NewOrderUsecase(txm, repos.Orders(), sm, ids, clock),
		saga:    usecase.NewPaymentSaga(txm, repos.Payments(), repos.PaymentHistories(), repos.BillingAuths(), gw, nil, ids, clock),
		billing: usecase.NewBillingAuthUsecase(txm, gw, ids, clock),
	}
}

var (
	customer = usecase.Principal{UserID: 7, Role: model.RoleCustomer}
	stranger = usecase.Principal{UserID: 8, Role: model.RoleCustomer}
	owner    = usecase.Principal{UserID: 100, Role: model.RoleOwner, StoreID: "store-1"}
	rival    = usecase.Principal{UserID: 200, Role: model.RoleOwner, StoreID: "store-2"}
	admin    = usecase.Principal{UserID: 1, Role: model.RoleAdmin}
)

// アメリカーノ 4500 x 3 + ショット追加 500 x 3 = 15000
func americanoOrder(key string) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		StoreID:        "store-1",
		PaymentMethod:  model.PaymentMethodCreditCard,
		IdempotencyKey: key,
		Items: []usecase.PlaceOrderItemInput{{
			MenuID:    "menu-americano",
			MenuName:  "Americano",
			MenuPrice: 4500,
			Quantity:  3,
			Options: []usecase.PlaceOrderOptionInput{
				{MenuOptionID: "opt-shot", OptionName: "Extra shot", OptionPrice: 500},
			},
		}},
	}
}

func (f *fixture) placeOrder(t *testing.T, key string) usecase.OrderOutput {
	t.Helper()
	out, err := f.orders.PlaceOrder(context.Background(), customer, americanoOrder(key))
	require.NoError(t, err)
	return out
}

func (f *fixture) orderStatus(t *testing.T, orderID string) model.OrderStatus {
	t.Helper()
	o, err := f.repos.Orders().FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

// aggregateに積まれたイベントのtopic（古い順）
func (f *fixture) topics(t *testing.T, aggregateID string) []string {
	t.Helper()
	recs, err := f.repos.Outbox().ListByAggregateID(context.Background(), aggregateID)
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.EventType)
	}
	return out
}

func countTopic(topics []string, topic string) int {
	n := 0
	for _, tp := range topics {
		if tp == topic {
			n++
		}
	}
	return n
}

func (f *fixture) ready(t *testing.T, orderID string, amount int64, key string) string {
	t.Helper()
	id, err := f.saga.Ready(context.Background(), usecase.ReadyInput{
		OrderID:        orderID,
		UserID:         customer.UserID,
		Title:          "Americano",
		Method:         model.PaymentMethodCreditCard,
		Amount:         amount,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return id
}

// READY -> SUCCESS まで進めた決済
func (f *fixture) approvedPayment(t *testing.T, orderID string, amount int64) string {
	t.Helper()
	testutil.SeedBillingKey(t, f.db, customer.UserID)
	id := f.ready(t, orderID, amount, "ready-"+orderID)
	res, err := f.saga.Approve(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusSuccess, res.Status)
	return id
}

func (f *fixture) paymentStatus(t *testing.T, paymentID string) model.PaymentStatus {
	t.Helper()
	h, err := f.repos.PaymentHistories().Latest(context.Background(), paymentID)
	require.NoError(t, err)
	return h.Status
}

func (f *fixture) historyStatuses(t *testing.T, paymentID string) []model.PaymentStatus {
	t.Helper()
	hs, err := f.repos.PaymentHistories().ListByPaymentID(context.Background(), paymentID)
	require.NoError(t, err)
	out := make([]model.PaymentStatus, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Status)
	}
	return out
}
