package toss

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"spot/internal/gateway"
	"spot/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	policies := NewPolicies(resilience.Settings{
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
		MaxConcurrent:    4,
		MaxAttempts:      3,
		InitialInterval:  time.Millisecond,
		MaxInterval:      2 * time.Millisecond,
		Timeout:          2 * time.Second,
	})
	return NewClient(srv.URL, "test_sk", srv.Client(), policies)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ChargeBilling(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/billing/bk_1", r.URL.Path)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test_sk:")), r.Header.Get("Authorization"))
		assert.Equal(t, "charge-p1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, map[string]any{
			"paymentKey":  "pk_1",
			"orderId":     "order-1",
			"status":      "DONE",
			"totalAmount": 15000,
			"approvedAt":  "2026-03-01T12:00:00+09:00",
		})
	})

	res, err := c.ChargeBilling(context.Background(), gateway.ChargeRequest{
		BillingKey:     "bk_1",
		CustomerKey:    "cust-1",
		OrderID:        "order-1",
		OrderName:      "Americano",
		Amount:         15000,
		IdempotencyKey: "charge-p1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pk_1", res.PaymentKey)
	assert.Equal(t, gateway.StatusDone, res.Status)
	assert.Equal(t, int64(15000), res.TotalAmount)
	assert.True(t, res.ApprovedAt.Equal(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)))

	assert.Equal(t, "cust-1", gotBody["customerKey"])
	assert.Equal(t, "order-1", gotBody["orderId"])
	assert.Equal(t, float64(15000), gotBody["amount"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "BUSY"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"paymentKey": "pk_1", "status": "DONE"})
	})

	res, err := c.ChargeBilling(context.Background(), gateway.ChargeRequest{BillingKey: "bk", OrderID: "o", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, "pk_1", res.PaymentKey)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_RejectionIsNotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "REJECT_CARD_COMPANY", "message": "card rejected"})
	})

	_, err := c.ChargeBilling(context.Background(), gateway.ChargeRequest{BillingKey: "bk", OrderID: "o", Amount: 1})

	var rejected *gateway.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "REJECT_CARD_COMPANY", rejected.Code)
	assert.Equal(t, "card rejected", rejected.Message)
	assert.True(t, errors.Is(err, gateway.ErrGatewayRejected))
	assert.False(t, gateway.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

// 連続障害でbreakerが開いたら、サーバーに届かずunavailable
func TestClient_BreakerOpen(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	req := gateway.ChargeRequest{BillingKey: "bk", OrderID: "o", Amount: 1}

	_, err := c.ChargeBilling(context.Background(), req)
	assert.True(t, errors.Is(err, gateway.ErrGatewayUnavailable))
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))

	_, err = c.ChargeBilling(context.Background(), req)
	assert.True(t, errors.Is(err, gateway.ErrGatewayUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	//操作ごとに別のbreaker
	_, err = c.FindByOrderID(context.Background(), "o")
	assert.Error(t, err)
	assert.Greater(t, atomic.LoadInt32(&hits), int32(3))
}

func TestClient_Cancel_AmountOnlyWhenPartial(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pk_1/cancel", r.URL.Path)
		var b map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&b))
		bodies = append(bodies, b)
		writeJSON(w, http.StatusOK, map[string]any{"paymentKey": "pk_1", "status": "PARTIAL_CANCELED", "balanceAmount": 10000})
	})

	res, err := c.Cancel(context.Background(), gateway.CancelRequest{PaymentKey: "pk_1", Reason: "partial", CancelAmount: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.BalanceAmount)

	_, err = c.Cancel(context.Background(), gateway.CancelRequest{PaymentKey: "pk_1", Reason: "full"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, float64(5000), bodies[0]["cancelAmount"])
	assert.Equal(t, "partial", bodies[0]["cancelReason"])
	_, ok := bodies[1]["cancelAmount"]
	assert.False(t, ok)
}

func TestClient_IssueBillingKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/billing/authorizations/issue", r.URL.Path)
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		writeJSON(w, http.StatusOK, map[string]any{"billingKey": "bk_new", "customerKey": "cust-1"})
	})

	res, err := c.IssueBillingKey(context.Background(), gateway.IssueBillingKeyRequest{AuthKey: "a", CustomerKey: "cust-1"})
	require.NoError(t, err)
	assert.Equal(t, "bk_new", res.BillingKey)
	assert.True(t, res.AuthenticatedAt.IsZero())
}

func TestClient_FindByOrderID_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/orders/order-1", r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND_PAYMENT"})
	})

	_, err := c.FindByOrderID(context.Background(), "order-1")
	assert.True(t, errors.Is(err, gateway.ErrPaymentNotFound))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "sk", srv.Client(), NewPolicies(resilience.Settings{
		FailureThreshold: 5,
		MaxAttempts:      1,
		MaxConcurrent:    1,
		Timeout:          20 * time.Millisecond,
	}))

	_, err := c.FindByOrderID(context.Background(), "order-1")
	assert.True(t, errors.Is(err, gateway.ErrGatewayTimeout))
}
