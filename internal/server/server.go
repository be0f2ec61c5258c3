package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Handlers Handlers
	Verifier middleware.TokenVerifier
	Admins   middleware.AdminPolicy
	// ローカルディスクに保存した画像を配信する（空なら配信しない）
	StaticRoot string
}

// New はミドルウェアとルートを登録した echo を返す。
func New(o Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Cart-Session"},
	}))

	if o.StaticRoot != "" {
		e.Static("/storage", o.StaticRoot)
	}

	RegisterRoutes(e, o.Handlers, o.Verifier, o.Admins)
	return e
}

// Start は ctx が終わるまで待ち受け、その後リクエストを捌き切ってから止まる。
func Start(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
