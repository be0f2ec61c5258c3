package repository

import (
	"context"
	"io"
)

// 商品画像などの置き場所
type ObjectStorage interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string) error
	PublicURL(path string) string
}
