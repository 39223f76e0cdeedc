package consumer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"spot/internal/consumer"
	"spot/internal/domain/model"
	"spot/internal/infra/eventbus"
	infraRepo "spot/internal/infra/repository"
	repo "spot/internal/repository"
	"spot/internal/testutil"
	"spot/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// =====================
// 注文サービスと決済サービスをMemoryBusでつないだ環境
// =====================

type harness struct {
	db     *gorm.DB
	bus    *eventbus.MemoryBus
	gw     *testutil.FakeGateway
	repos  repo.TxRepos
	orders *usecase.OrderUsecase
	relay  *usecase.OutboxRelay
}

var customer = usecase.Principal{UserID: 7, Role: model.RoleCustomer}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := testutil.NewDB(t)
	clock := testutil.NewFixedClock()
	ids := testutil.UUIDs{}
	gw := testutil.NewFakeGateway()
	bus := eventbus.NewMemoryBus()
	txm := infraRepo.NewTxManagerGorm(gdb)
	repos := infraRepo.NewTxRepos(gdb)

	sm := usecase.NewOrderStateMachine(txm, ids, clock)
	saga := usecase.NewPaymentSaga(txm, repos.Payments(), repos.PaymentHistories(), repos.BillingAuths(), gw, nil, ids, clock)

	ctx := context.Background()
	require.NoError(t, consumer.NewOrderConsumer(sm, false).Register(ctx, bus))
	require.NoError(t, consumer.NewPaymentConsumer(saga, false).Register(ctx, bus))

	return &harness{
		db:     gdb,
		bus:    bus,
		gw:     gw,
		repos:  repos,
		orders: usecase.NewOrderUsecase(txm, repos.Orders(), sm, ids, clock),
		//両サービスが同じDBなのでrelayは1つで足りる
		relay: usecase.NewOutboxRelay(txm, repos.Outbox(), bus, clock, usecase.OutboxRelayConfig{BatchSize: 50, ClaimLease: time.Minute}),
	}
}

// outbox -> bus -> consumer を静かになるまで回す
func (h *harness) pump(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		published, failed, err := h.relay.RunOnce(ctx)
		require.NoError(t, err)
		require.Zero(t, failed)
		delivered := h.bus.Drain(ctx)
		if published == 0 && delivered == 0 {
			return
		}
	}
	t.Fatal("saga did not settle")
}

func (h *harness) placeOrder(t *testing.T) usecase.OrderOutput {
	t.Helper()
	out, err := h.orders.PlaceOrder(context.Background(), customer, usecase.PlaceOrderInput{
		StoreID:        "store-1",
		PaymentMethod:  model.PaymentMethodCreditCard,
		IdempotencyKey: "key-1",
		Items: []usecase.PlaceOrderItemInput{{
			MenuID: "menu-americano", MenuName: "Americano", MenuPrice: 4500, Quantity: 3,
			Options: []usecase.PlaceOrderOptionInput{{MenuOptionID: "opt-shot", OptionName: "Extra shot", OptionPrice: 500}},
		}},
	})
	require.NoError(t, err)
	return out
}

func (h *harness) orderStatus(t *testing.T, orderID string) model.OrderStatus {
	t.Helper()
	o, err := h.repos.Orders().FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

func (h *harness) paymentStatus(t *testing.T, orderID string) model.PaymentStatus {
	t.Helper()
	p, err := h.repos.Payments().FindLatestByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	latest, err := h.repos.PaymentHistories().Latest(context.Background(), p.ID)
	require.NoError(t, err)
	return latest.Status
}

func topics(msgs []eventbus.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Topic)
	}
	return out
}

// =====================
// 正常系
// =====================

func TestSaga_OrderIsAcceptedAfterPayment(t *testing.T) {
	h := newHarness(t)
	testutil.SeedBillingKey(t, h.db, customer.UserID)

	order := h.placeOrder(t)
	require.Equal(t, int64(15000), order.TotalPrice)
	h.pump(t)

	assert.Equal(t, model.OrderStatusAccepted, h.orderStatus(t, order.ID))
	assert.Equal(t, model.PaymentStatusSuccess, h.paymentStatus(t, order.ID))
	assert.Equal(t, []string{
		model.TopicOrderCreated,
		model.TopicPaymentSucceeded,
		model.TopicOrderAccepted,
	}, topics(h.bus.Published()))

	require.Len(t, h.gw.Charges, 1)
	assert.Equal(t, int64(15000), h.gw.Charges[0].Amount)
	assert.Equal(t, order.ID, h.gw.Charges[0].OrderID)
}

// 再配信されても課金も遷移も1回だけ
func TestSaga_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedBillingKey(t, h.db, customer.UserID)
	order := h.placeOrder(t)
	h.pump(t)

	for _, m := range h.bus.Published() {
		h.bus.Deliver(ctx, m)
	}
	h.pump(t)

	assert.Equal(t, 1, h.gw.ChargeCount())
	assert.Equal(t, model.OrderStatusAccepted, h.orderStatus(t, order.ID))
	assert.Len(t, h.bus.PublishedTo(model.TopicOrderAccepted), 1)
	assert.Len(t, h.bus.PublishedTo(model.TopicPaymentSucceeded), 1)

	var payments int64
	require.NoError(t, h.db.Model(&model.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)
}

// =====================
// 補償
// =====================

// 決済手段がなければ注文はPENDINGのまま、顧客への通知が出る
func TestSaga_AuthRequiredKeepsOrderPending(t *testing.T) {
	h := newHarness(t)

	order := h.placeOrder(t)
	h.pump(t)

	assert.Equal(t, model.OrderStatusPending, h.orderStatus(t, order.ID))
	assert.Equal(t, model.PaymentStatusFailed, h.paymentStatus(t, order.ID))
	assert.Equal(t, []string{
		model.TopicOrderCreated,
		model.TopicAuthRequired,
		model.TopicOrderPending,
	}, topics(h.bus.Published()))

	//取り消しても返金するものはない
	_, err := h.orders.Cancel(context.Background(), customer, order.ID, "")
	require.NoError(t, err)
	h.pump(t)

	assert.Equal(t, model.OrderStatusCancelled, h.orderStatus(t, order.ID))
	assert.Empty(t, h.gw.CancelRequests())
	assert.Empty(t, h.bus.PublishedTo(model.TopicPaymentRefunded))
}

func TestSaga_CancelAcceptedOrderRefunds(t *testing.T) {
	h := newHarness(t)
	testutil.SeedBillingKey(t, h.db, customer.UserID)
	order := h.placeOrder(t)
	h.pump(t)
	require.Equal(t, model.OrderStatusAccepted, h.orderStatus(t, order.ID))

	_, err := h.orders.Cancel(context.Background(), customer, order.ID, "changed my mind")
	require.NoError(t, err)
	h.pump(t)

	assert.Equal(t, model.OrderStatusCancelled, h.orderStatus(t, order.ID))
	assert.Equal(t, model.PaymentStatusCancelled, h.paymentStatus(t, order.ID))

	cancels := h.gw.CancelRequests()
	require.Len(t, cancels, 1)
	assert.Equal(t, "changed my mind", cancels[0].Reason)

	p, err := h.repos.Payments().FindLatestByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), p.CancelledAmount)
	assert.Len(t, h.bus.PublishedTo(model.TopicPaymentRefunded), 1)
}

// =====================
// 読めないメッセージ
// =====================

func TestConsumer_UndecodableMessage(t *testing.T) {
	ctx := context.Background()

	drop := consumer.NewPaymentConsumer(nil, false)
	dlq := consumer.NewPaymentConsumer(nil, true)

	for _, payload := range []string{`{not json`, `{"amount":15000}`} {
		msg := eventbus.Message{ID: "m1", Topic: model.TopicOrderCreated, Payload: []byte(payload)}

		assert.NoError(t, drop.HandleOrderCreated(ctx, msg))
		err := dlq.HandleOrderCreated(ctx, msg)
		assert.True(t, errors.Is(err, eventbus.ErrDeadLetter))
	}

	orderDrop := consumer.NewOrderConsumer(nil, false)
	orderDLQ := consumer.NewOrderConsumer(nil, true)
	msg := eventbus.Message{ID: "m2", Topic: model.TopicPaymentSucceeded, Payload: []byte(`[]`)}
	assert.NoError(t, orderDrop.HandlePaymentSucceeded(ctx, msg))
	assert.True(t, errors.Is(orderDLQ.HandlePaymentSucceeded(ctx, msg), eventbus.ErrDeadLetter))

	//MemoryBusはDLX扱いのものを記録する
	bus := eventbus.NewMemoryBus()
	require.NoError(t, orderDLQ.Register(ctx, bus))
	bus.Deliver(ctx, msg)
	assert.Len(t, bus.DeadLetters(), 1)
}

func TestConsumer_UnknownOrderIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, err := model.NewOutboxRecord("evt-1", model.AggregatePayment, "p-1", model.TopicPaymentSucceeded,
		model.PaymentSucceededEvent{OrderID: "missing", PaymentID: "p-1", Amount: 100}, time.Now())
	require.NoError(t, err)

	h.bus.Deliver(ctx, eventbus.Message{ID: rec.ID, Topic: rec.EventType, Payload: []byte(rec.Payload)})

	assert.Empty(t, h.bus.DeadLetters())
	assert.Empty(t, h.bus.Published())
}
