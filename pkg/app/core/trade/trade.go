// Package trade defines the immutable fill record appended for every
// successful issuance, market-maker, or order-book execution.
package trade

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies which engine produced a fill.
type Kind string

const (
	KindIPO         Kind = "ipo"
	KindMarketMaker Kind = "market_maker"
	KindOrderBook   Kind = "order_book"
)

// Record is one fill. Buyer/Seller are participant names, or the reserved
// issuer/market-maker sentinels for the counterparty side.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	Seq         uint64          `json:"seq"`
	Kind        Kind            `json:"kind"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	BuyOrderID  uint64          `json:"buy_order_id,omitempty"`
	SellOrderID uint64          `json:"sell_order_id,omitempty"`
	Quantity    int64           `json:"num_shares"`
	Price       decimal.Decimal `json:"price_per_share"`
	Total       decimal.Decimal `json:"total_amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// New builds a record with a fresh id and Total = Price * Quantity.
// Seq and Timestamp are stamped by the exchange when the fill commits.
func New(kind Kind, buyer, seller string, qty int64, price decimal.Decimal) Record {
	return Record{
		ID:       uuid.New(),
		Kind:     kind,
		Buyer:    buyer,
		Seller:   seller,
		Quantity: qty,
		Price:    price,
		Total:    price.Mul(decimal.NewFromInt(qty)),
	}
}
