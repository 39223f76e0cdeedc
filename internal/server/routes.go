package server

import (
	"net/http"

	"spot/internal/config"
	"spot/internal/handler"

	"github.com/labstack/echo/v4"
)

type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo, cfg config.Config)
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, registrars ...RouteRegistrar) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})
	for _, r := range registrars {
		r.RegisterRoutes(e, cfg)
	}
}
