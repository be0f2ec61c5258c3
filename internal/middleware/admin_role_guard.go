package middleware

import (
	"net/http"

	"storefront/internal/identity"

	"github.com/labstack/echo/v4"
)

// 管理者かどうか（config.Config が満たす）
type AdminPolicy interface {
	IsAdminEmail(email string) bool
}

// AuthJWT の後ろに置く。ADMIN_EMAILS に入っているメールだけ通す。
func AdminRoleGuard(policy AdminPolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := identity.FromContext(c.Request().Context())
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			if !policy.IsAdminEmail(id.Email) {
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}

			return next(c)
		}
	}
}
