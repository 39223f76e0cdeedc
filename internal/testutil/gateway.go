package testutil

import (
	"context"
	"sync"

	"spot/internal/gateway"
)

// 呼び出しを記録するだけのゲートウェイ
type FakeGateway struct {
	mu sync.Mutex

	ChargeErr    error
	ChargeStatus string
	CancelErr    error
	IssueErr     error
	LookupErr    error
	Records      map[string]gateway.PaymentRecord

	Charges []gateway.ChargeRequest
	Cancels []gateway.CancelRequest
	Issues  []gateway.IssueBillingKeyRequest
}

var _ gateway.PaymentGateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Records: map[string]gateway.PaymentRecord{}}
}

func (g *FakeGateway) ChargeBilling(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Charges = append(g.Charges, req)
	if g.ChargeErr != nil {
		return gateway.ChargeResult{}, g.ChargeErr
	}
	status := g.ChargeStatus
	if status == "" {
		status = gateway.StatusDone
	}
	return gateway.ChargeResult{
		PaymentKey:  "pk_" + req.OrderID,
		OrderID:     req.OrderID,
		Status:      status,
		TotalAmount: req.Amount,
	}, nil
}

func (g *FakeGateway) Cancel(ctx context.Context, req gateway.CancelRequest) (gateway.CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancels = append(g.Cancels, req)
	if g.CancelErr != nil {
		return gateway.CancelResult{}, g.CancelErr
	}
	return gateway.CancelResult{PaymentKey: req.PaymentKey, Status: gateway.StatusCanceled}, nil
}

func (g *FakeGateway) IssueBillingKey(ctx context.Context, req gateway.IssueBillingKeyRequest) (gateway.BillingKeyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Issues = append(g.Issues, req)
	if g.IssueErr != nil {
		return gateway.BillingKeyResult{}, g.IssueErr
	}
	return gateway.BillingKeyResult{BillingKey: "bk_" + req.CustomerKey, CustomerKey: req.CustomerKey}, nil
}

func (g *FakeGateway) FindByOrderID(ctx context.Context, orderID string) (gateway.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.LookupErr != nil {
		return gateway.PaymentRecord{}, g.LookupErr
	}
	rec, ok := g.Records[orderID]
	if !ok {
		return gateway.PaymentRecord{}, gateway.ErrPaymentNotFound
	}
	return rec, nil
}

func (g *FakeGateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}

func (g *FakeGateway) CancelRequests() []gateway.CancelRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.CancelRequest, len(g.Cancels))
	copy(out, g.Cancels)
	return out
}
