package orderclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spot/internal/domain/model"
	"spot/internal/infra/resilience"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// 注文サービスに届かない・5xx
	ErrUnavailable = errors.New("order service unavailable")
	// 想定外のレスポンス（401/403など）
	ErrUnexpectedStatus = errors.New("order service unexpected status")
)

// 決済サービスから注文サービスの内部APIを引くクライアント
type Client struct {
	baseURL    string
	secret     []byte
	tokenTTL   time.Duration
	httpClient *http.Client
	policy     *resilience.Policy
}

func NewClient(baseURL, jwtSecret string, httpClient *http.Client, policy *resilience.Policy) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     []byte(jwtSecret),
		tokenTTL:   time.Minute,
		httpClient: httpClient,
		policy:     policy,
	}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// 注文が存在するか。404ならfalse。
func (c *Client) Exists(ctx context.Context, orderID string) (bool, error) {
	found := false
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		ok, err := c.lookup(ctx, orderID)
		found = ok
		return err
	})
	if err != nil {
		if resilience.IsShortCircuit(err) || errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return false, err
	}
	return found, nil
}

func (c *Client) lookup(ctx context.Context, orderID string) (bool, error) {
	token, err := c.serviceToken(time.Now())
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// 短命のINTERNALトークン
func (c *Client) serviceToken(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  "0",
		"role": model.RoleInternal,
		"iat":  now.Unix(),
		"exp":  now.Add(c.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
