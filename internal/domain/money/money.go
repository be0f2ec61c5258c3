// Package money は金額を最小通貨単位（int64, 2桁）で扱うための変換。
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// 小数点以下の桁数（USD 前提）
const Scale = 2

var (
	ErrNegative     = errors.New("amount must be >= 0")
	ErrTooPrecise   = errors.New("amount has more than 2 decimal places")
	ErrInvalidValue = errors.New("invalid amount")
)

// FromDecimal は 999.99 → 99999 に変換する。3桁以上の端数は丸めずエラー。
func FromDecimal(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	return shifted.IntPart(), nil
}

// Parse は "999.99" のような文字列を最小単位に変換する。
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidValue
	}
	return FromDecimal(d)
}

// ToDecimal は最小単位を decimal に戻す。
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format は 199998 → "1999.98"
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(Scale)
}
