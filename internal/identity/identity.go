// Package identity は認証済みユーザーの取り出しとトークン検証。
//
// トークンは外部の認証基盤が HS256 で署名した JWT（sub = ユーザーID, email）。
// ミドルウェアが Verifier で検証し、結果を ctx に入れる。
// 注文確定などのユースケースは Gate 経由で毎回 ctx から読む（キャッシュしない）。
package identity

import "context"

type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.ID == "" {
		return Identity{}, false
	}
	return id, true
}

// Gate は「今サインインしているのは誰か」を答える。
type Gate interface {
	Current(ctx context.Context) (Identity, bool)
}

// ContextGate はミドルウェアが ctx に入れた Identity を返す。
type ContextGate struct{}

func (ContextGate) Current(ctx context.Context) (Identity, bool) {
	return FromContext(ctx)
}
