package handler

import (
	"context"
	"net/http"

	"storefront/internal/identity"
	"storefront/internal/middleware"

	"github.com/labstack/echo/v4"
)

// サインアウト（トークン失効）
type SignOuter interface {
	SignOut(ctx context.Context, raw string) error
}

type AuthHandler struct {
	verifier middleware.TokenVerifier
	signOut  SignOuter
	admins   middleware.AdminPolicy
}

// DIコンストラクタ
func NewAuthHandler(verifier middleware.TokenVerifier, signOut SignOuter, admins middleware.AdminPolicy) *AuthHandler {
	return &AuthHandler{verifier: verifier, signOut: signOut, admins: admins}
}

type meResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// ログイン自体は外部の認証基盤。ここでは確認とサインアウトだけ
func (h *AuthHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/auth")
	g.Use(middleware.AuthJWT(h.verifier))

	g.GET("/me", h.me)
	g.POST("/signout", h.signout)
}

func (h *AuthHandler) me(c echo.Context) error {
	id, ok := identity.FromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	return c.JSON(http.StatusOK, meResponse{
		ID:      id.ID,
		Email:   id.Email,
		IsAdmin: h.admins.IsAdminEmail(id.Email),
	})
}

func (h *AuthHandler) signout(c echo.Context) error {
	raw, ok := middleware.BearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.signOut.SignOut(c.Request().Context(), raw); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AuthJWT が入れたユーザーID
func getUserIDFromContext(c echo.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxUserIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
