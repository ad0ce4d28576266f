package marketmaker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T, inventory int64, makerCash string) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.MarketMaker{Inventory: inventory, Cash: d(makerCash)})
	require.NoError(t, l.Add(ledger.Participant{Name: "Olin", Cash: d("1000")}))
	require.NoError(t, l.Add(ledger.Participant{Name: "Mig", Shares: 20, Cash: d("100")}))
	return l
}

func TestQuoteSpread(t *testing.T) {
	s := DefaultSpread()
	for _, p := range []string{"10", "1.0101010101", "33.3333", "100"} {
		q := s.Quote(d(p))
		assert.InDelta(t, 0.95*d(p).InexactFloat64(), q.Bid.InexactFloat64(), 1e-9)
		assert.InDelta(t, 1.05*d(p).InexactFloat64(), q.Ask.InexactFloat64(), 1e-9)
	}

	q := s.Quote(d("10"))
	assert.True(t, q.Bid.Equal(d("9.5")))
	assert.True(t, q.Ask.Equal(d("10.5")))
}

func TestSpreadValidate(t *testing.T) {
	require.NoError(t, DefaultSpread().Validate())
	require.Error(t, Spread{BidMultiplier: d("1.1"), AskMultiplier: d("1.0")}.Validate())
	require.Error(t, Spread{BidMultiplier: d("0"), AskMultiplier: d("1.0")}.Validate())
}

func TestTradeRequiresExactlyOneSide(t *testing.T) {
	l := newLedger(t, 50, "1000")
	e := Engine{Spread: DefaultSpread()}

	_, err := e.Trade(l.Begin(), d("10"), Request{Buyer: "Olin", Seller: "Mig", Quantity: 1})
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = e.Trade(l.Begin(), d("10"), Request{Quantity: 1})
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = e.Trade(l.Begin(), d("10"), Request{Buyer: "Olin", Quantity: -2})
	require.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestTradeUnknownParticipant(t *testing.T) {
	l := newLedger(t, 50, "1000")
	e := Engine{Spread: DefaultSpread()}

	_, err := e.Trade(l.Begin(), d("10"), Request{Buyer: "Nobody", Quantity: 1})
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.Trade(l.Begin(), d("10"), Request{Seller: "Nobody", Quantity: 1})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestBuyFromMaker(t *testing.T) {
	l := newLedger(t, 50, "1000")
	e := Engine{Spread: DefaultSpread()}

	tx := l.Begin()
	res, err := e.Trade(tx, d("10"), Request{Buyer: "Olin", Quantity: 5})
	require.NoError(t, err)
	tx.Commit()

	assert.Equal(t, Buy, res.Side)
	assert.Equal(t, int64(5), res.Filled)
	assert.Equal(t, Filled, res.Outcome)
	assert.True(t, res.UnitPrice.Equal(d("10.5")))
	assert.True(t, res.Total.Equal(d("52.5")))
	assert.Equal(t, int64(45), res.MakerInventory)
	assert.True(t, res.MakerCash.Equal(d("1052.5")))
	require.NotNil(t, res.Trade)
	assert.Equal(t, "Olin", res.Trade.Buyer)
	assert.Equal(t, core.MarketMakerID, res.Trade.Seller)

	p, err := l.Get("Olin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Shares)
	assert.True(t, p.Cash.Equal(d("947.5")))
}

func TestBuyFillsAffordablePrefix(t *testing.T) {
	tests := []struct {
		name      string
		inventory int64
		price     string
		qty       int64
		want      int64
		outcome   Outcome
	}{
		{"limited by cash", 50, "100", 20, 9, InsufficientFunds}, // 1000 / 105 = 9.52
		{"limited by inventory", 3, "10", 5, 3, MakerInventoryExhausted},
		{"nothing affordable", 50, "2000", 1, 0, InsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t, tt.inventory, "1000")
			e := Engine{Spread: DefaultSpread()}

			tx := l.Begin()
			res, err := e.Trade(tx, d(tt.price), Request{Buyer: "Olin", Quantity: tt.qty})
			require.NoError(t, err)
			tx.Commit()

			assert.Equal(t, tt.want, res.Filled)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.True(t, res.Partial())
			if tt.want == 0 {
				assert.Nil(t, res.Trade)
			}

			p, err := l.Get("Olin")
			require.NoError(t, err)
			require.NoError(t, p.Validate())
			assert.Equal(t, tt.want, p.Shares)
			require.NoError(t, l.Maker().Validate())
		})
	}
}

func TestSellToMaker(t *testing.T) {
	l := newLedger(t, 50, "1000")
	e := Engine{Spread: DefaultSpread()}

	tx := l.Begin()
	res, err := e.Trade(tx, d("10"), Request{Seller: "Mig", Quantity: 3})
	require.NoError(t, err)
	tx.Commit()

	assert.Equal(t, Sell, res.Side)
	assert.Equal(t, int64(3), res.Filled)
	assert.True(t, res.UnitPrice.Equal(d("9.5")))
	assert.True(t, res.Total.Equal(d("28.5")))
	assert.Equal(t, int64(53), res.MakerInventory)
	assert.True(t, res.MakerCash.Equal(d("971.5")))
	require.NotNil(t, res.Trade)
	assert.Equal(t, core.MarketMakerID, res.Trade.Buyer)
	assert.Equal(t, "Mig", res.Trade.Seller)

	p, err := l.Get("Mig")
	require.NoError(t, err)
	assert.Equal(t, int64(17), p.Shares)
	assert.True(t, p.Cash.Equal(d("128.5")))
}

func TestSellFillsAvailablePrefix(t *testing.T) {
	t.Run("limited by seller shares", func(t *testing.T) {
		l := newLedger(t, 50, "1000")
		e := Engine{Spread: DefaultSpread()}

		res, err := e.Trade(l.Begin(), d("10"), Request{Seller: "Mig", Quantity: 25})
		require.NoError(t, err)
		assert.Equal(t, int64(20), res.Filled)
		assert.Equal(t, InsufficientShares, res.Outcome)
	})

	t.Run("limited by maker cash", func(t *testing.T) {
		l := newLedger(t, 50, "20")
		e := Engine{Spread: DefaultSpread()}

		tx := l.Begin()
		res, err := e.Trade(tx, d("10"), Request{Seller: "Mig", Quantity: 5})
		require.NoError(t, err)
		tx.Commit()
		assert.Equal(t, int64(2), res.Filled) // 20 / 9.5
		assert.Equal(t, MakerCashExhausted, res.Outcome)
		require.NoError(t, l.Maker().Validate())
	})

	t.Run("seller holds nothing", func(t *testing.T) {
		l := newLedger(t, 50, "1000")
		e := Engine{Spread: DefaultSpread()}

		res, err := e.Trade(l.Begin(), d("10"), Request{Seller: "Olin", Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Filled)
		assert.Equal(t, InsufficientShares, res.Outcome)
		assert.Nil(t, res.Trade)
	})
}

func TestUnitsAffordable(t *testing.T) {
	assert.Equal(t, int64(0), unitsAffordable(d("100"), decimal.Zero))
	assert.Equal(t, int64(3), unitsAffordable(d("1"), d("0.3333333333333333333")))
	assert.Equal(t, int64(9), unitsAffordable(d("1000"), d("105")))
	assert.Equal(t, int64(10), unitsAffordable(d("105"), d("10.5")))
}
