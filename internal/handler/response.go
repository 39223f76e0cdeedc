package handler

import (
	"errors"
	"net/http"

	"spot/internal/domain/model"
	"spot/internal/gateway"
	"spot/internal/infra/orderclient"
	"spot/internal/middleware"
	repo "spot/internal/repository"
	"spot/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// usecase/gatewayのエラーをHTTPステータスに寄せる
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	var itemErr *model.ItemValidationError
	var transErr *model.InvalidTransitionError
	var rejected *gateway.RejectedError

	switch {
	//400
	case errors.Is(err, usecase.ErrValidation),
		errors.Is(err, usecase.ErrInvalidAmount),
		errors.As(err, &itemErr):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	//403
	case errors.Is(err, usecase.ErrForbidden):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	//404
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, usecase.ErrOrderNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	//409
	case errors.Is(err, usecase.ErrDuplicatePayment),
		errors.Is(err, usecase.ErrInvalidPaymentState),
		errors.Is(err, usecase.ErrPaymentKeyNotFound),
		errors.Is(err, repo.ErrConflict),
		errors.As(err, &transErr):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	//422 決済手段の登録が必要
	case errors.Is(err, usecase.ErrBillingKeyNotFound):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	//402 ゲートウェイが拒否
	case errors.As(err, &rejected):
		return c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: rejected.Message})
	case errors.Is(err, gateway.ErrGatewayRejected):
		return c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "payment rejected"})
	case errors.Is(err, gateway.ErrGatewayTimeout):
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "payment gateway timeout"})
	case errors.Is(err, gateway.ErrGatewayUnavailable), errors.Is(err, orderclient.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
	}

	//500
	log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(middleware.CtxUserIDKey)
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

// AuthJWTが置いたuser_id/roleから組み立てる
func getPrincipal(c echo.Context) (usecase.Principal, bool) {
	id, ok := getUserIDFromContext(c)
	if !ok {
		return usecase.Principal{}, false
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)
	if role == "" {
		return usecase.Principal{}, false
	}
	storeID, _ := c.Get(middleware.CtxStoreIDKey).(string)
	return usecase.Principal{UserID: id, Role: role, StoreID: storeID}, true
}
