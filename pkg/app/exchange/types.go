package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/marketmaker"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// MarketData is the public view of the issuer, the quote and the market
// maker's book.
type MarketData struct {
	Offering       issuance.Offering
	Quote          marketmaker.Quote
	MakerInventory int64
	MakerCash      decimal.Decimal
	LastBookPrice  decimal.Decimal // zero until the order book trades
	TradeSeq       uint64
}

// OrderView is a resting order with its price in currency units.
type OrderView struct {
	ID        uint64
	Side      orderbook.Side
	Owner     string
	Price     decimal.Decimal
	Quantity  int64
	Remaining int64
}

// OrderResult reports a limit order placement.
type OrderResult struct {
	Order  OrderView // the incoming order after matching
	Fills  []orderbook.Fill
	Trades []trade.Record
}

// Rested reports whether part of the order is now resting in the book.
func (r OrderResult) Rested() bool { return r.Order.Remaining > 0 }

// DepthLevel is aggregated quantity at one price.
type DepthLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   int64           `json:"qty"`
}

// Depth is the aggregated order book, best prices first.
type Depth struct {
	Bids      []DepthLevel    `json:"bids"`
	Asks      []DepthLevel    `json:"asks"`
	LastPrice decimal.Decimal `json:"last_price"`
}
