package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"storefront/internal/logger"
	repo "storefront/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked")
)

// 有効期限の無いトークンを失効させるときの保持期間
const defaultRevokeFor = 24 * time.Hour

type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret      []byte
	revocations repo.RevocationStore
	hub         *Hub
	now         func() time.Time

	mu     sync.Mutex
	active map[string]struct{} // このプロセスで見たことのあるユーザー
}

func NewVerifier(secret string, revocations repo.RevocationStore, hub *Hub) *Verifier {
	return &Verifier{
		secret:      []byte(secret),
		revocations: revocations,
		hub:         hub,
		now:         time.Now,
		active:      map[string]struct{}{},
	}
}

// テスト用
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

func (v *Verifier) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims, nil
}

// Verify は署名・期限・失効を確認して Identity を返す。
// そのユーザーを初めて見たときはサインインとして通知する。
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	claims, err := v.parse(raw)
	if err != nil {
		return Identity{}, err
	}

	revoked, err := v.revocations.IsRevoked(ctx, tokenID(claims, raw))
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, ErrRevokedToken
	}

	id := Identity{ID: claims.Subject, Email: claims.Email}

	v.mu.Lock()
	_, seen := v.active[id.ID]
	if !seen {
		v.active[id.ID] = struct{}{}
	}
	v.mu.Unlock()

	if !seen && v.hub != nil {
		signedIn := id
		v.hub.Publish(IdentityChanged{Identity: &signedIn, At: v.now()})
	}
	return id, nil
}

// SignOut はトークンを期限まで失効させ、サインアウトを通知する。
func (v *Verifier) SignOut(ctx context.Context, raw string) error {
	claims, err := v.parse(raw)
	if err != nil {
		return err
	}

	until := v.now().Add(defaultRevokeFor)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := v.revocations.Revoke(ctx, tokenID(claims, raw), until); err != nil {
		return err
	}

	prev := Identity{ID: claims.Subject, Email: claims.Email}
	v.mu.Lock()
	delete(v.active, prev.ID)
	v.mu.Unlock()

	logger.WithCtx(ctx).Info("signed out", "user_id", prev.ID)
	if v.hub != nil {
		v.hub.Publish(IdentityChanged{Identity: nil, Previous: &prev, At: v.now()})
	}
	return nil
}

// jti があればそれ、無ければトークン自体のハッシュ
func tokenID(c *Claims, raw string) string {
	if c.ID != "" {
		return c.ID
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue は検証できるトークンを発行する（開発・テスト用。本番は認証基盤が発行する）。
func Issue(secret string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
