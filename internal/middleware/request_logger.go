package middleware

import (
	"time"

	"storefront/internal/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogger はリクエストごとに request_id 付きの logger を ctx に入れ、終了時に1行出す。
// echo の RequestID ミドルウェアより後ろに置く。
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = c.Request().Header.Get(echo.HeaderXRequestID)
			}

			reqLog := logger.L.With("request_id", rid)
			ctx := logger.InjectLogger(c.Request().Context(), reqLog)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			reqLog.Info("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start).String(),
				"ip", c.RealIP(),
			)
			return nil
		}
	}
}
