package handler

import (
	"net/http"

	"spot/internal/config"
	"spot/internal/domain/model"
	"spot/internal/middleware"
	"spot/internal/usecase"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	saga    *usecase.PaymentSaga
	billing *usecase.BillingAuthUsecase
}

func NewPaymentHandler(saga *usecase.PaymentSaga, billing *usecase.BillingAuthUsecase) *PaymentHandler {
	return &PaymentHandler{saga: saga, billing: billing}
}

type PaymentReadyRequest struct {
	OrderID string `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Method  string `json:"method"`
	Amount  int64  `json:"amount"`
}

type PaymentReadyResponse struct {
	PaymentID string `json:"payment_id"`
}

type PaymentCancelRequest struct {
	Reason       string `json:"reason"`
	CancelAmount int64  `json:"cancel_amount"`
}

type BillingKeyRequest struct {
	AuthKey     string `json:"auth_key"`
	CustomerKey string `json:"customer_key"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/payments")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.ready)
	g.POST("/billing-keys", h.registerBillingKey)
	g.POST("/:id/confirm", h.confirm)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/history", h.history)

	internal := e.Group("/internal/payments")
	internal.Use(middleware.AuthJWT(cfg))
	internal.Use(middleware.InternalRoleGuard())
	internal.GET("/order/:orderId", h.findByOrder)
}

func (h *PaymentHandler) ready(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PaymentReadyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	id, err := h.saga.RequestPayment(c.Request().Context(), p, usecase.ReadyInput{
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Title:          req.Title,
		Content:        req.Content,
		Method:         model.PaymentMethod(req.Method),
		Amount:         req.Amount,
		IdempotencyKey: c.Request().Header.Get("X-Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, PaymentReadyResponse{PaymentID: id})
}

// 失敗（AuthRequired）も200で返す。状態はbodyで見る
func (h *PaymentHandler) confirm(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.saga.Confirm(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) cancel(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PaymentCancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.saga.RequestCancel(c.Request().Context(), p, c.Param("id"), req.Reason, req.CancelAmount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) registerBillingKey(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req BillingKeyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.billing.Register(c.Request().Context(), p, usecase.RegisterBillingInput{
		AuthKey:     req.AuthKey,
		CustomerKey: req.CustomerKey,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *PaymentHandler) history(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.saga.History(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) findByOrder(c echo.Context) error {
	out, err := h.saga.FindByOrderID(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
