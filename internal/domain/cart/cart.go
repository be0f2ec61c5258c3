// Package cart はセッション単位で保持するカート（明細の並び）。
// 同じ商品は1行にまとめ、数量は追加時点で分かっている在庫数を超えない。
package cart

import (
	"encoding/json"
	"errors"
	"math"
)

var (
	// 在庫数を超える追加（カートは変更しない）
	ErrStockExceeded = errors.New("stock exceeded")
	// 数量は1以上
	ErrInvalidQuantity = errors.New("invalid quantity")
	// 商品IDなし
	ErrInvalidProduct = errors.New("invalid product")
	// 位置が範囲外
	ErrLineNotFound = errors.New("line not found")
	// 小計か合計が int64 に収まらない
	ErrAmountTooLarge = errors.New("amount too large")
)

// 保存形式のバージョン
const formatVersion = 1

// 追加時に渡す商品の状態
type Snapshot struct {
	ProductID string
	Name      string
	UnitPrice int64
	Stock     int64
	ImageURL  string
}

// カートの1行
type Line struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int64  `json:"stock"`
	ImageURL  string `json:"image_url,omitempty"`
	Quantity  int64  `json:"quantity"`
}

func (l Line) Subtotal() int64 {
	return l.UnitPrice * l.Quantity
}

type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{lines: []Line{}}
}

// AddLine は同一商品なら数量を加算、無ければ末尾に追加する。
// 加算後の数量が snapshot の在庫を超える場合は ErrStockExceeded。
// 単価は最初に追加した時点のものを維持する。
func (c *Cart) AddLine(p Snapshot, qty int64) error {
	if p.ProductID == "" {
		return ErrInvalidProduct
	}
	if qty < 1 {
		return ErrInvalidQuantity
	}

	for i := range c.lines {
		if c.lines[i].ProductID != p.ProductID {
			continue
		}
		newQty := c.lines[i].Quantity + qty
		if newQty > p.Stock {
			return ErrStockExceeded
		}
		if !c.fits(i, c.lines[i].UnitPrice, newQty) {
			return ErrAmountTooLarge
		}
		c.lines[i].Quantity = newQty
		c.lines[i].Stock = p.Stock
		return nil
	}

	if qty > p.Stock {
		return ErrStockExceeded
	}
	if p.UnitPrice < 0 {
		return ErrInvalidProduct
	}
	if !c.fits(-1, p.UnitPrice, qty) {
		return ErrAmountTooLarge
	}
	c.lines = append(c.lines, Line{
		ProductID: p.ProductID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Stock:     p.Stock,
		ImageURL:  p.ImageURL,
		Quantity:  qty,
	})
	return nil
}

// UpdateQuantity は index の行の数量を置き換える。stock は最新の在庫数。
func (c *Cart) UpdateQuantity(index int, qty int64, stock int64) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineNotFound
	}
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if qty > stock {
		return ErrStockExceeded
	}
	if !c.fits(index, c.lines[index].UnitPrice, qty) {
		return ErrAmountTooLarge
	}
	c.lines[index].Quantity = qty
	c.lines[index].Stock = stock
	return nil
}

// RemoveLine は index の行を削除する。範囲外は何もしないで false。
func (c *Cart) RemoveLine(index int) bool {
	if index < 0 || index >= len(c.lines) {
		return false
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// fits は index の行（-1 なら新しい行）を unitPrice×qty にしたときに
// 小計も合計も int64 に収まるか。単価・数量は負でない前提。
func (c *Cart) fits(index int, unitPrice, qty int64) bool {
	total, ok := mulInt64(unitPrice, qty)
	if !ok {
		return false
	}
	for i, l := range c.lines {
		if i == index {
			continue
		}
		sub := l.Subtotal()
		if total > math.MaxInt64-sub {
			return false
		}
		total += sub
	}
	return true
}

// 合計（単価×数量の和）。AddLine / UpdateQuantity / Unmarshal であふれないことを確認済み
func (c *Cart) Total() int64 {
	var total int64
	for _, l := range c.lines {
		total += l.Subtotal()
	}
	return total
}

func (c *Cart) Clear() {
	c.lines = []Line{}
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Line は index の行のコピーを返す。
func (c *Cart) Line(index int) (Line, bool) {
	if index < 0 || index >= len(c.lines) {
		return Line{}, false
	}
	return c.lines[index], true
}

// Lines はコピーを返す（呼び出し側の変更はカートに影響しない）
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

type stored struct {
	Version int    `json:"version"`
	Lines   []Line `json:"lines"`
}

// Marshal はカート全体を JSON にする。
func (c *Cart) Marshal() ([]byte, error) {
	return json.Marshal(stored{Version: formatVersion, Lines: c.Lines()})
}

// Unmarshal は保存値からカートを復元する。
// 壊れた値・不正な行を含む値は空のカートとして扱う（エラーにしない）。
func Unmarshal(data []byte) (*Cart, bool) {
	var st stored
	if err := json.Unmarshal(data, &st); err != nil {
		return New(), false
	}
	if st.Version != formatVersion {
		return New(), false
	}

	c := New()
	seen := make(map[string]struct{}, len(st.Lines))
	for _, l := range st.Lines {
		if l.ProductID == "" || l.Quantity < 1 || l.UnitPrice < 0 {
			return New(), false
		}
		if _, dup := seen[l.ProductID]; dup {
			return New(), false
		}
		if !c.fits(-1, l.UnitPrice, l.Quantity) {
			return New(), false
		}
		seen[l.ProductID] = struct{}{}
		c.lines = append(c.lines, l)
	}
	return c, true
}
