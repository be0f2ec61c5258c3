package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// カートが空（書き込みは一切しない）
	ErrCartEmpty = errors.New("cart is empty")
	// サインインしていない（書き込みは一切しない）
	ErrUnauthenticated = errors.New("not signed in")
	// カートに入れようとした数が在庫を超える
	ErrStockExceeded = errors.New("stock exceeded")
	// 確定時に在庫が足りなかった（全て取り消し済み）
	ErrInsufficientStock = errors.New("insufficient stock")
	// 確定処理の途中で失敗した
	ErrCheckoutFailed = errors.New("checkout failed")
)

// HTTPError はハンドラがそのままステータスに変換するエラー。
// Err に原因を持たせると errors.Is で判定できる。
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

// WrapHTTPError は原因付きの HTTPError を作る。
func WrapHTTPError(status int, message string, err error) error {
	return &HTTPError{
		Status:  status,
		Message: message,
		Err:     err,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func dbError(err error) error {
	return WrapHTTPError(http.StatusInternalServerError, "db error", err)
}
