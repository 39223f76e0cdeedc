package gateway

import (
	"errors"
	"fmt"
)

var (
	// 5xx・通信失敗・breaker open・bulkhead満杯
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// 4xx（業務的な拒否）。リトライしない
	ErrGatewayRejected = errors.New("payment gateway rejected")
	ErrGatewayTimeout  = errors.New("payment gateway timeout")

	// 照会でプロバイダに記録がない
	ErrPaymentNotFound = errors.New("payment not found at gateway")
)

// プロバイダが返した拒否の中身
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return ErrGatewayRejected
}

// リトライしてよい失敗か
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrGatewayTimeout)
}
