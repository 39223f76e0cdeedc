package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"spot/internal/config"
	"spot/internal/domain/model"
	"spot/internal/middleware"
	"spot/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	uc *usecase.OrderUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc}
}

type OrderCreateRequest struct {
	StoreID       string                        `json:"store_id"`
	PickupTime    time.Time                     `json:"pickup_time"`
	PaymentMethod string                        `json:"payment_method"`
	Items         []usecase.PlaceOrderItemInput `json:"items"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type OrderCancelRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/my-store", h.storeList, middleware.RoleGuard(model.RoleOwner, model.RoleManager, model.RoleAdmin))
	g.GET("/number/:orderNumber", h.byNumber)
	g.GET("/:id", h.detail)
	g.PUT("/:id/status", h.updateStatus, middleware.RoleGuard(model.RoleOwner, model.RoleManager, model.RoleAdmin))
	g.POST("/:id/cancel", h.cancel)

	//決済サービスからの存在確認
	internal := e.Group("/internal/orders")
	internal.Use(middleware.AuthJWT(cfg))
	internal.Use(middleware.InternalRoleGuard())
	internal.GET("/:id", h.internalDetail)
}

func (h *OrderHandler) create(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("X-Idempotency-Key")

	out, err := h.uc.PlaceOrder(c.Request().Context(), p, usecase.PlaceOrderInput{
		StoreID:        req.StoreID,
		PickupTime:     req.PickupTime,
		PaymentMethod:  model.PaymentMethod(req.PaymentMethod),
		IdempotencyKey: idemKey,
		Items:          req.Items,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.Detail(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) byNumber(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.FindByNumber(c.Request().Context(), p, c.Param("orderNumber"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 自分の注文。?active=true で受け取り前だけ
func (h *OrderHandler) list(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	in, err := bindOrderListQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	out, err := h.uc.ListMine(c.Request().Context(), p, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 担当店舗の注文。ADMINは ?store_id= で指定する
func (h *OrderHandler) storeList(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	in, err := bindOrderListQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	in.StoreID = c.QueryParam("store_id")
	out, err := h.uc.ListStore(c.Request().Context(), p, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func bindOrderListQuery(c echo.Context) (usecase.OrderListInput, error) {
	in := usecase.OrderListInput{Status: c.QueryParam("status")}
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return in, errors.New("invalid active")
		}
		in.ActiveOnly = b
	}
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return in, errors.New("invalid page")
		}
		in.Page = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return in, errors.New("invalid limit")
		}
		in.Limit = n
	}
	return in, nil
}

func (h *OrderHandler) updateStatus(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req OrderStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.UpdateStatus(c.Request().Context(), p, c.Param("id"), req.Status, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) cancel(c echo.Context) error {
	p, ok := getPrincipal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req OrderCancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.Cancel(c.Request().Context(), p, c.Param("id"), req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 存在すれば200、なければ404
func (h *OrderHandler) internalDetail(c echo.Context) error {
	out, err := h.uc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
