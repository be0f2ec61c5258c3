package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront/internal/identity"
	"storefront/internal/logger"

	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey    = "user_id"    // string
	CtxUserEmailKey = "user_email" // string
)

// トークンの検証（identity.Verifier が満たす）
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (identity.Identity, error)
}

// bearerAuth用のJWT検証ミドルウェア。トークンが無ければ 401。
func AuthJWT(v TokenVerifier) echo.MiddlewareFunc {
	return auth(v, true)
}

// OptionalAuth はトークンがあれば検証して ctx に入れる。無ければそのまま通す。
// 未ログインの扱いはユースケース側で決める。
func OptionalAuth(v TokenVerifier) echo.MiddlewareFunc {
	return auth(v, false)
}

func auth(v TokenVerifier, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//Authorizationヘッダを取得
			authz := c.Request().Header.Get("Authorization")
			if authz == "" {
				if required {
					return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
				}
				return next(c)
			}

			rawToken, ok := BearerToken(authz)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			ctx := c.Request().Context()
			id, err := v.Verify(ctx, rawToken)
			if err != nil {
				if !errors.Is(err, identity.ErrInvalidToken) && !errors.Is(err, identity.ErrRevokedToken) {
					logger.WithCtx(ctx).Error("verify token", "error", err)
				}
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//contextへ保存
			c.Set(CtxUserIDKey, id.ID)
			c.Set(CtxUserEmailKey, id.Email)
			ctx = identity.WithIdentity(ctx, id)
			ctx = logger.InjectLogger(ctx, logger.WithCtx(ctx).With("user_id", id.ID))
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// BearerToken は "Bearer xxx" から xxx を取り出す。
func BearerToken(authz string) (string, bool) {
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", false
	}
	return raw, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
