package usecase

import (
	"errors"
	"fmt"
)

var (
	// 入力不正（副作用なし）
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAmount = errors.New("payment amount must be greater than zero")

	// 競合。呼び出し側はそのまま再試行しない
	ErrDuplicatePayment    = errors.New("an active payment already exists for this order")
	ErrInvalidPaymentState = errors.New("payment is not in a state that allows this operation")

	ErrBillingKeyNotFound = errors.New("billing key not found")
	ErrPaymentKeyNotFound = errors.New("payment key not found")
	ErrOrderNotFound      = errors.New("order not found")

	ErrForbidden = errors.New("forbidden")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
