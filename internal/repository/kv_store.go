package repository

import (
	"context"
	"time"
)

// セッション単位のカート保存先（キー/値）
type CartStore interface {
	// 無ければ ok=false
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// サインアウト済みトークンの記録
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// 商品一覧のキャッシュ。Invalidate で全キーを無効にする。
//
// Get は見つからなくても、その時点のバージョンを返す。DB を読む前に Get し、
// そのバージョンを Set に渡す。間に Invalidate があれば Set した値は読まれない。
type CatalogCache interface {
	Get(ctx context.Context, key string, dest any) (version int64, hit bool)
	Set(ctx context.Context, key string, version int64, value any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}
