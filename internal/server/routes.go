package server

import (
	"net/http"

	"storefront/internal/handler"
	"storefront/internal/metrics"
	"storefront/internal/middleware"

	"github.com/labstack/echo/v4"
)

// Handlers はルート登録に使うハンドラ一式
type Handlers struct {
	Products      *handler.ProductHandler
	Cart          *handler.CartHandler
	Orders        *handler.OrderHandler
	Auth          *handler.AuthHandler
	AdminProducts *handler.AdminProductHandler
	AdminOrders   *handler.AdminOrderHandler
	AdminAudit    *handler.AdminAuditHandler
}

func RegisterRoutes(e *echo.Echo, h Handlers, v middleware.TokenVerifier, admins middleware.AdminPolicy) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	h.Products.RegisterRoutes(e)
	h.Cart.RegisterRoutes(e)
	h.Orders.RegisterRoutes(e, v)
	h.Auth.RegisterRoutes(e)
	h.AdminProducts.RegisterRoutes(e, v, admins)
	h.AdminOrders.RegisterRoutes(e, v, admins)
	h.AdminAudit.RegisterRoutes(e, v, admins)
}
