package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spot/internal/gateway"
	"spot/internal/infra/resilience"
)

// 操作ごとに別のpolicyを持つ（1つの操作の故障が他を止めない）
type Policies struct {
	Charge *resilience.Policy
	Cancel *resilience.Policy
	Issue  *resilience.Policy
	Lookup *resilience.Policy
}

// 同じ設定から操作ごとのpolicyを作る
func NewPolicies(base resilience.Settings) Policies {
	mk := func(name string) *resilience.Policy {
		s := base
		s.Name = name
		return resilience.NewPolicy(s, gateway.IsTransient)
	}
	return Policies{
		Charge: mk("toss_billing_payment"),
		Cancel: mk("toss_payment_cancel"),
		Issue:  mk("toss_billing_key_issue"),
		Lookup: mk("toss_payment_lookup"),
	}
}

type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	policies   Policies
}

func NewClient(baseURL, secretKey string, httpClient *http.Client, policies Policies) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	//secretKey + ":" をbasic認証に使う
	token := base64.StdEncoding.EncodeToString([]byte(secretKey + ":"))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + token,
		httpClient: httpClient,
		policies:   policies,
	}
}

type paymentResponse struct {
	PaymentKey    string `json:"paymentKey"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	TotalAmount   int64  `json:"totalAmount"`
	BalanceAmount int64  `json:"balanceAmount"`
	ApprovedAt    string `json:"approvedAt"`
}

type billingKeyResponse struct {
	BillingKey      string `json:"billingKey"`
	CustomerKey     string `json:"customerKey"`
	AuthenticatedAt string `json:"authenticatedAt"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) ChargeBilling(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	body := map[string]any{
		"customerKey": req.CustomerKey,
		"amount":      req.Amount,
		"orderId":     req.OrderID,
		"orderName":   req.OrderName,
	}
	var res paymentResponse
	path := "/v1/billing/" + url.PathEscape(req.BillingKey)
	if err := c.call(ctx, c.policies.Charge, http.MethodPost, path, req.IdempotencyKey, body, &res); err != nil {
		return gateway.ChargeResult{}, err
	}
	return gateway.ChargeResult{
		PaymentKey:  res.PaymentKey,
		OrderID:     res.OrderID,
		Status:      res.Status,
		TotalAmount: res.TotalAmount,
		ApprovedAt:  parseTime(res.ApprovedAt),
	}, nil
}

func (c *Client) Cancel(ctx context.Context, req gateway.CancelRequest) (gateway.CancelResult, error) {
	body := map[string]any{
		"cancelReason": req.Reason,
	}
	//部分取消のときだけ金額を送る
	if req.CancelAmount > 0 {
		body["cancelAmount"] = req.CancelAmount
	}
	var res paymentResponse
	path := "/v1/payments/" + url.PathEscape(req.PaymentKey) + "/cancel"
	if err := c.call(ctx, c.policies.Cancel, http.MethodPost, path, req.IdempotencyKey, body, &res); err != nil {
		return gateway.CancelResult{}, err
	}
	return gateway.CancelResult{
		PaymentKey:    res.PaymentKey,
		Status:        res.Status,
		BalanceAmount: res.BalanceAmount,
	}, nil
}

func (c *Client) IssueBillingKey(ctx context.Context, req gateway.IssueBillingKeyRequest) (gateway.BillingKeyResult, error) {
	body := map[string]any{
		"authKey":     req.AuthKey,
		"customerKey": req.CustomerKey,
	}
	var res billingKeyResponse
	if err := c.call(ctx, c.policies.Issue, http.MethodPost, "/v1/billing/authorizations/issue", "", body, &res); err != nil {
		return gateway.BillingKeyResult{}, err
	}
	return gateway.BillingKeyResult{
		BillingKey:      res.BillingKey,
		CustomerKey:     res.CustomerKey,
		AuthenticatedAt: parseTime(res.AuthenticatedAt),
	}, nil
}

func (c *Client) FindByOrderID(ctx context.Context, orderID string) (gateway.PaymentRecord, error) {
	var res paymentResponse
	err := c.call(ctx, c.policies.Lookup, http.MethodGet, "/v1/payments/orders/"+url.PathEscape(orderID), "", nil, &res)
	var rejected *gateway.RejectedError
	if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
		return gateway.PaymentRecord{}, gateway.ErrPaymentNotFound
	}
	if err != nil {
		return gateway.PaymentRecord{}, err
	}
	return gateway.PaymentRecord{
		PaymentKey:  res.PaymentKey,
		OrderID:     res.OrderID,
		Status:      res.Status,
		TotalAmount: res.TotalAmount,
		ApprovedAt:  parseTime(res.ApprovedAt),
	}, nil
}

// policyを通して1リクエストを送り、エラーをgatewayのエラーにそろえる
func (c *Client) call(ctx context.Context, policy *resilience.Policy, method, path, idempotencyKey string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	err := policy.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, method, path, idempotencyKey, payload, out)
	})
	return mapPolicyError(err)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %s %s", gateway.ErrGatewayTimeout, method, path)
		}
		return fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", gateway.ErrGatewayTimeout, method, path)
		}
		return fmt.Errorf("%w: read body: %v", gateway.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", gateway.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		return &gateway.RejectedError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Message}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", gateway.ErrGatewayUnavailable, err)
		}
	}
	return nil
}

func mapPolicyError(err error) error {
	switch {
	case err == nil:
		return nil
	case resilience.IsShortCircuit(err):
		return fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		if errors.Is(err, gateway.ErrGatewayTimeout) {
			return err
		}
		return fmt.Errorf("%w: %v", gateway.ErrGatewayTimeout, err)
	case errors.Is(err, gateway.ErrGatewayUnavailable), errors.Is(err, gateway.ErrGatewayRejected), errors.Is(err, gateway.ErrGatewayTimeout):
		return err
	default:
		return fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, err)
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
