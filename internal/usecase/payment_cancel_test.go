package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"spot/internal/domain/model"
	"spot/internal/gateway"
	repo "spot/internal/repository"
	"spot/internal/testutil"
	"spot/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentSaga_Cancel_Full(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedPayment(t, "order-1", 15000)

	res, err := f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "customer request"})
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusCancelled, res.Status)
	assert.Equal(t, int64(15000), res.CancelledAmount)
	assert.Equal(t, int64(0), res.Remaining)

	//一度も取り消していない全額取消は金額なし
	cancels := f.gw.CancelRequests()
	require.Len(t, cancels, 1)
	assert.Equal(t, "pk_"+id, cancels[0].PaymentKey)
	assert.Equal(t, int64(0), cancels[0].CancelAmount)

	p, err := f.repos.Payments().FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), p.CancelledAmount)
	assert.Nil(t, p.ActiveOrderID)

	assert.Equal(t, []string{model.TopicPaymentSucceeded, model.TopicPaymentRefunded}, f.topics(t, id))
	recs, err := f.repos.Outbox().ListByAggregateID(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, string(recs[1].Payload), `"remaining":0`)
}

func TestPaymentSaga_Cancel_Partial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedPayment(t, "order-1", 15000)

	res, err := f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "one cup missing", CancelAmount: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Remaining)

	p, err := f.repos.Payments().FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.ActiveOrderID)

	//残額を超える取消
	_, err = f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "too much", CancelAmount: 10001})
	assert.True(t, errors.Is(err, usecase.ErrInvalidAmount))

	//残り全部。部分取消の後は金額を明示する
	res, err = f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "rest"})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.CancelledAmount)
	assert.Equal(t, int64(0), res.Remaining)

	cancels := f.gw.CancelRequests()
	require.Len(t, cancels, 2)
	assert.Equal(t, int64(5000), cancels[0].CancelAmount)
	assert.Equal(t, int64(10000), cancels[1].CancelAmount)

	//もう取り消せない
	_, err = f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "again"})
	assert.True(t, errors.Is(err, usecase.ErrInvalidPaymentState))
	assert.Equal(t, 2, countTopic(f.topics(t, id), model.TopicPaymentRefunded))
}

func TestPaymentSaga_Cancel_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedPayment(t, "order-1", 15000)

	_, err := f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "  "})
	assert.True(t, errors.Is(err, usecase.ErrValidation))

	_, err = f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "x", CancelAmount: -1})
	assert.True(t, errors.Is(err, usecase.ErrInvalidAmount))

	_, err = f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: "missing", Reason: "x"})
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	assert.Empty(t, f.gw.CancelRequests())
}

func TestPaymentSaga_Cancel_NotApprovedYet(t *testing.T) {
	f := newFixture(t)
	id := f.ready(t, "order-1", 15000, "key-1")

	_, err := f.saga.Cancel(context.Background(), usecase.CancelInput{PaymentID: id, Reason: "x"})

	assert.True(t, errors.Is(err, usecase.ErrPaymentKeyNotFound))
	assert.Equal(t, model.PaymentStatusReady, f.paymentStatus(t, id))
}

// ゲートウェイ失敗はFAILEDを積んでエラー。あとで取り消し直せる
func TestPaymentSaga_Cancel_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedPayment(t, "order-1", 15000)
	f.gw.CancelErr = fmt.Errorf("%w: 503", gateway.ErrGatewayUnavailable)

	_, err := f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "x"})
	assert.True(t, errors.Is(err, gateway.ErrGatewayUnavailable))
	assert.Equal(t, model.PaymentStatusFailed, f.paymentStatus(t, id))
	assert.Equal(t, 0, countTopic(f.topics(t, id), model.TopicPaymentRefunded))

	p, err := f.repos.Payments().FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.CancelledAmount)

	f.gw.CancelErr = nil
	res, err := f.saga.Cancel(ctx, usecase.CancelInput{PaymentID: id, Reason: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, res.Status)
	assert.Equal(t, []model.PaymentStatus{
		model.PaymentStatusReady,
		model.PaymentStatusInProgress,
		model.PaymentStatusSuccess,
		model.PaymentStatusCancelInProgress,
		model.PaymentStatusFailed,
		model.PaymentStatusCancelInProgress,
		model.PaymentStatusCancelled,
	}, f.historyStatuses(t, id))
}

func TestPaymentSaga_RequestCancel_OnlyOwner(t *testing.T) {
	f := newFixture(t)
	id := f.approvedPayment(t, "order-1", 15000)

	_, err := f.saga.RequestCancel(context.Background(), stranger, id, "x", 0)
	assert.True(t, errors.Is(err, usecase.ErrForbidden))
	assert.Empty(t, f.gw.CancelRequests())

	res, err := f.saga.RequestCancel(context.Background(), customer, id, "x", 0)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, res.Status)
}

// =====================
// order.cancelled の補償
// =====================

func TestPaymentSaga_RefundByOrderID_Approved(t *testing.T) {
	f := newFixture(t)
	id := f.approvedPayment(t, "order-1", 15000)

	res, err := f.saga.RefundByOrderID(context.Background(), "order-1", "")
	require.NoError(t, err)

	assert.Equal(t, id, res.PaymentID)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Len(t, f.gw.CancelRequests(), 1)

	//もう有効な決済はない
	_, err = f.saga.RefundByOrderID(context.Background(), "order-1", "")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

// 承認前なら無効化だけ
func TestPaymentSaga_RefundByOrderID_ReadyIsVoided(t *testing.T) {
	f := newFixture(t)
	id := f.ready(t, "order-1", 15000, "key-1")

	res, err := f.saga.RefundByOrderID(context.Background(), "order-1", "order rejected")
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusFailed, res.Status)
	assert.Empty(t, f.gw.CancelRequests())
	assert.Equal(t, model.PaymentStatusFailed, f.paymentStatus(t, id))
	assert.Empty(t, f.topics(t, id))

	p, err := f.repos.Payments().FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, p.ActiveOrderID)
}

func TestPaymentSaga_RefundByOrderID_InProgressRejected(t *testing.T) {
	f := newFixture(t)
	testutil.SeedBillingKey(t, f.db, customer.UserID)
	f.gw.ChargeErr = errors.New("connection reset by peer")
	id := f.ready(t, "order-1", 15000, "key-1")
	_, err := f.saga.Approve(context.Background(), id)
	require.Error(t, err)

	_, err = f.saga.RefundByOrderID(context.Background(), "order-1", "")
	assert.True(t, errors.Is(err, usecase.ErrInvalidPaymentState))
}

// =====================
// Reconcile
// =====================

func stuckPayment(t *testing.T, f *fixture, orderID string) string {
	t.Helper()
	f.gw.ChargeErr = errors.New("connection reset by peer")
	id := f.ready(t, orderID, 15000, "key-"+orderID)
	_, err := f.saga.Approve(context.Background(), id)
	require.Error(t, err)
	f.gw.ChargeErr = nil
	return id
}

func TestPaymentSaga_Reconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedBillingKey(t, f.db, customer.UserID)

	charged := stuckPayment(t, f, "order-charged")
	missing := stuckPayment(t, f, "order-missing")
	f.gw.Records[charged] = gateway.PaymentRecord{
		PaymentKey:  "pk_" + charged,
		OrderID:     charged,
		Status:      gateway.StatusDone,
		TotalAmount: 15000,
	}

	//まだ新しいものは触らない
	rep, err := f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, usecase.ReconcileReport{}, rep)

	f.clock.Advance(10 * time.Minute)
	rep, err = f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)

	assert.Equal(t, model.PaymentStatusSuccess, f.paymentStatus(t, charged))
	assert.Equal(t, []string{model.TopicPaymentSucceeded}, f.topics(t, charged))
	key, err := f.repos.PaymentKeys().FindByPaymentID(ctx, charged)
	require.NoError(t, err)
	assert.Equal(t, "pk_"+charged, key.PaymentKey)

	assert.Equal(t, model.PaymentStatusFailed, f.paymentStatus(t, missing))
	assert.Equal(t, []string{model.TopicAuthRequired}, f.topics(t, missing))

	//片付いたので次は何もない
	rep, err = f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked)
}

// 課金済みで金額が合わないものはFAILEDにしない（枠も解放しない）
func TestPaymentSaga_Reconcile_ChargedAmountMismatchNeedsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedBillingKey(t, f.db, customer.UserID)
	id := stuckPayment(t, f, "order-x")
	f.gw.Records[id] = gateway.PaymentRecord{
		PaymentKey:  "pk_" + id,
		OrderID:     id,
		Status:      gateway.StatusDone,
		TotalAmount: 14000,
	}
	f.clock.Advance(10 * time.Minute)

	rep, err := f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, usecase.ReconcileReport{Checked: 1, Skipped: 1}, rep)
	assert.Equal(t, model.PaymentStatusInProgress, f.paymentStatus(t, id))
	assert.Empty(t, f.topics(t, id))

	//有効な決済のまま。同じ注文で2件目は作れない
	_, err = f.saga.Ready(ctx, usecase.ReadyInput{OrderID: "order-x", UserID: customer.UserID, Amount: 15000, IdempotencyKey: "key-again"})
	assert.True(t, errors.Is(err, usecase.ErrDuplicatePayment))
}

func TestPaymentSaga_Reconcile_GatewayStatus(t *testing.T) {
	cases := []struct {
		name   string
		status string
		want   model.PaymentStatus
		report usecase.ReconcileReport
	}{
		{name: "aborted", status: gateway.StatusAborted, want: model.PaymentStatusFailed, report: usecase.ReconcileReport{Checked: 1, Failed: 1}},
		{name: "expired", status: gateway.StatusExpired, want: model.PaymentStatusFailed, report: usecase.ReconcileReport{Checked: 1, Failed: 1}},
		{name: "canceled", status: gateway.StatusCanceled, want: model.PaymentStatusFailed, report: usecase.ReconcileReport{Checked: 1, Failed: 1}},
		{name: "partial canceled", status: gateway.StatusPartialCanceled, want: model.PaymentStatusInProgress, report: usecase.ReconcileReport{Checked: 1, Skipped: 1}},
		{name: "still in progress", status: "IN_PROGRESS", want: model.PaymentStatusInProgress, report: usecase.ReconcileReport{Checked: 1, Skipped: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			testutil.SeedBillingKey(t, f.db, customer.UserID)
			id := stuckPayment(t, f, "order-1")
			f.gw.Records[id] = gateway.PaymentRecord{OrderID: id, Status: tc.status, TotalAmount: 15000}
			f.clock.Advance(10 * time.Minute)

			rep, err := f.saga.Reconcile(context.Background(), 5*time.Minute)
			require.NoError(t, err)

			assert.Equal(t, tc.report, rep)
			assert.Equal(t, tc.want, f.paymentStatus(t, id))
		})
	}
}

// 同じ注文の別の決済の記録は見ない
func TestPaymentSaga_Reconcile_LooksUpOwnAttemptOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedBillingKey(t, f.db, customer.UserID)

	first := stuckPayment(t, f, "order-1")
	f.gw.Records[first] = gateway.PaymentRecord{OrderID: first, Status: gateway.StatusAborted, TotalAmount: 15000}
	f.clock.Advance(10 * time.Minute)
	_, err := f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusFailed, f.paymentStatus(t, first))

	//2回目の決済。プロバイダ側の注文IDは別
	f.gw.ChargeErr = errors.New("connection reset by peer")
	second := f.ready(t, "order-1", 15000, "key-retry")
	_, err = f.saga.Approve(ctx, second)
	require.Error(t, err)
	f.gw.ChargeErr = nil
	require.Len(t, f.gw.Charges, 2)
	assert.Equal(t, first, f.gw.Charges[0].OrderID)
	assert.Equal(t, second, f.gw.Charges[1].OrderID)

	f.gw.Records[second] = gateway.PaymentRecord{PaymentKey: "pk_" + second, OrderID: second, Status: gateway.StatusDone, TotalAmount: 15000}
	f.clock.Advance(10 * time.Minute)
	rep, err := f.saga.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, usecase.ReconcileReport{Checked: 1, Succeeded: 1}, rep)
	assert.Equal(t, model.PaymentStatusSuccess, f.paymentStatus(t, second))
	assert.Equal(t, model.PaymentStatusFailed, f.paymentStatus(t, first))
}

func TestPaymentSaga_Reconcile_LookupErrorSkips(t *testing.T) {
	f := newFixture(t)
	testutil.SeedBillingKey(t, f.db, customer.UserID)
	id := stuckPayment(t, f, "order-1")
	f.gw.LookupErr = gateway.ErrGatewayTimeout
	f.clock.Advance(10 * time.Minute)

	rep, err := f.saga.Reconcile(context.Background(), 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, model.PaymentStatusInProgress, f.paymentStatus(t, id))
}

// =====================
// billing key
// =====================

func TestBillingAuthUsecase_Register_ReplacesActiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := testutil.SeedBillingKey(t, f.db, customer.UserID)

	out, err := f.billing.Register(ctx, customer, usecase.RegisterBillingInput{AuthKey: "auth-1", CustomerKey: "cust-7"})
	require.NoError(t, err)
	assert.Equal(t, "cust-7", out.CustomerKey)

	active, err := f.repos.BillingAuths().FindActiveByUserID(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Equal(t, out.ID, active.ID)
	assert.NotEqual(t, old.ID, active.ID)
	assert.Equal(t, "bk_cust-7", active.BillingKey)

	require.Len(t, f.gw.Issues, 1)
	assert.Equal(t, "auth-1", f.gw.Issues[0].AuthKey)
}

func TestBillingAuthUsecase_Register_GatewayErrorKeepsOldKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := testutil.SeedBillingKey(t, f.db, customer.UserID)
	f.gw.IssueErr = &gateway.RejectedError{StatusCode: 400, Code: "INVALID_AUTH_KEY", Message: "bad auth key"}

	_, err := f.billing.Register(ctx, customer, usecase.RegisterBillingInput{AuthKey: "auth-1", CustomerKey: "cust-7"})
	assert.True(t, errors.Is(err, gateway.ErrGatewayRejected))

	active, err := f.repos.BillingAuths().FindActiveByUserID(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, active.ID)
}

func TestBillingAuthUsecase_Register_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.billing.Register(context.Background(), customer, usecase.RegisterBillingInput{AuthKey: "", CustomerKey: "c"})
	assert.True(t, errors.Is(err, usecase.ErrValidation))
	assert.Empty(t, f.gw.Issues)
}
