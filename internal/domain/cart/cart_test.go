package cart

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func laptop() Snapshot {
	return Snapshot{ProductID: "p-a", Name: "Laptop", UnitPrice: 99999, Stock: 5}
}

func TestAddLine_MergesSameProduct(t *testing.T) {
	c := New()

	require.NoError(t, c.AddLine(laptop(), 1))
	require.NoError(t, c.AddLine(laptop(), 2))

	require.Equal(t, 1, c.Len())
	l, _ := c.Line(0)
	assert.Equal(t, int64(3), l.Quantity)
	assert.Equal(t, int64(299997), c.Total())
}

func TestAddLine_StockExceededLeavesCartUnchanged(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 4))

	err := c.AddLine(laptop(), 2)
	assert.ErrorIs(t, err, ErrStockExceeded)

	l, _ := c.Line(0)
	assert.Equal(t, int64(4), l.Quantity)

	// 新規行でも同じ
	err = c.AddLine(Snapshot{ProductID: "p-b", UnitPrice: 100, Stock: 1}, 2)
	assert.ErrorIs(t, err, ErrStockExceeded)
	assert.Equal(t, 1, c.Len())
}

func TestAddLine_UsesLatestStock(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 2))

	// 在庫が減った後の snapshot
	p := laptop()
	p.Stock = 2
	assert.ErrorIs(t, c.AddLine(p, 1), ErrStockExceeded)
}

func TestAddLine_InvalidInput(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.AddLine(laptop(), 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.AddLine(Snapshot{Stock: 3}, 1), ErrInvalidProduct)
	assert.True(t, c.IsEmpty())
}

func TestAddLine_RejectsAmountOverflow(t *testing.T) {
	c := New()
	huge := Snapshot{ProductID: "p-h", UnitPrice: math.MaxInt64 / 2, Stock: math.MaxInt64}

	require.NoError(t, c.AddLine(huge, 1))
	// 小計があふれる
	assert.ErrorIs(t, c.AddLine(huge, 2), ErrAmountTooLarge)
	// 合計があふれる
	other := Snapshot{ProductID: "p-o", UnitPrice: math.MaxInt64 / 2, Stock: 10}
	require.NoError(t, c.AddLine(other, 1))
	assert.ErrorIs(t, c.AddLine(Snapshot{ProductID: "p-x", UnitPrice: 10, Stock: 10}, 1), ErrAmountTooLarge)
	assert.ErrorIs(t, c.UpdateQuantity(0, 2, math.MaxInt64), ErrAmountTooLarge)

	assert.Equal(t, 2, c.Len())
	l, _ := c.Line(0)
	assert.Equal(t, int64(1), l.Quantity)
	assert.Equal(t, int64(2*(math.MaxInt64/2)), c.Total())
}

func TestRemoveLine_OutOfRangeIsNoop(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 1))

	assert.False(t, c.RemoveLine(-1))
	assert.False(t, c.RemoveLine(1))
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.RemoveLine(0))
	assert.True(t, c.IsEmpty())
	assert.False(t, c.RemoveLine(0))
}

func TestUpdateQuantity(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 1))

	require.NoError(t, c.UpdateQuantity(0, 3, 5))
	assert.ErrorIs(t, c.UpdateQuantity(0, 6, 5), ErrStockExceeded)
	assert.ErrorIs(t, c.UpdateQuantity(0, 0, 5), ErrInvalidQuantity)
	assert.ErrorIs(t, c.UpdateQuantity(3, 1, 5), ErrLineNotFound)

	l, _ := c.Line(0)
	assert.Equal(t, int64(3), l.Quantity)
}

func TestLines_ReturnsCopy(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 1))

	lines := c.Lines()
	lines[0].Quantity = 100

	l, _ := c.Line(0)
	assert.Equal(t, int64(1), l.Quantity)
}

// 任意の操作列の後でも Total は各行の単価×数量の和、数量は在庫以下
func TestRandomOperations_TotalAndStockInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []Snapshot{
		{ProductID: "a", UnitPrice: 99999, Stock: 5},
		{ProductID: "b", UnitPrice: 1050, Stock: 1},
		{ProductID: "c", UnitPrice: 1, Stock: 20},
		{ProductID: "d", UnitPrice: 2500, Stock: 0},
	}

	for run := 0; run < 200; run++ {
		c := New()
		for step := 0; step < 30; step++ {
			if rng.Intn(3) == 0 {
				c.RemoveLine(rng.Intn(c.Len()+2) - 1)
				continue
			}
			p := products[rng.Intn(len(products))]
			_ = c.AddLine(p, int64(rng.Intn(4)))
		}

		var want int64
		for _, l := range c.Lines() {
			want += l.UnitPrice * l.Quantity
			assert.GreaterOrEqual(t, l.Quantity, int64(1))
			assert.LessOrEqual(t, l.Quantity, l.Stock)
		}
		assert.Equal(t, want, c.Total())
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.AddLine(laptop(), 2))
	require.NoError(t, c.AddLine(Snapshot{ProductID: "p-b", Name: "Mouse", UnitPrice: 1999, Stock: 10, ImageURL: "http://x/m.png"}, 3))

	data, err := c.Marshal()
	require.NoError(t, err)

	restored, ok := Unmarshal(data)
	require.True(t, ok)
	assert.Equal(t, c.Lines(), restored.Lines())
	assert.Equal(t, c.Total(), restored.Total())
}

func TestMarshal_EmptyCart(t *testing.T) {
	data, err := New().Marshal()
	require.NoError(t, err)

	restored, ok := Unmarshal(data)
	assert.True(t, ok)
	assert.True(t, restored.IsEmpty())
}

func TestUnmarshal_CorruptedYieldsEmpty(t *testing.T) {
	inputs := map[string]string{
		"garbage":        "{{not json",
		"empty":          "",
		"wrong version":  `{"version":99,"lines":[]}`,
		"zero quantity":  `{"version":1,"lines":[{"product_id":"a","unit_price":1,"quantity":0}]}`,
		"missing id":     `{"version":1,"lines":[{"unit_price":1,"quantity":1}]}`,
		"overflow":       `{"version":1,"lines":[{"product_id":"a","unit_price":9223372036854775807,"quantity":2}]}`,
		"duplicate line": `{"version":1,"lines":[{"product_id":"a","unit_price":1,"quantity":1},{"product_id":"a","unit_price":1,"quantity":1}]}`,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			c, ok := Unmarshal([]byte(in))
			assert.False(t, ok)
			require.NotNil(t, c)
			assert.True(t, c.IsEmpty())
		})
	}
}
