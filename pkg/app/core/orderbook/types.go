package orderbook

import (
	"fmt"
	"strings"

	"github.com/uhyunpark/minimarket/pkg/app/core"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, core.ErrInvalidOrderType)
	}
}

// Order is a limit order. ID doubles as the insertion sequence number and
// breaks ties between orders at the same price.
type Order struct {
	ID        uint64 `json:"id"`
	Side      Side   `json:"side"`
	Owner     string `json:"owner"`
	Price     int64  `json:"price"`    // integer ticks
	Quantity  int64  `json:"quantity"` // original size
	Remaining int64  `json:"remaining"`
}

// Filled returns the quantity matched so far.
func (o *Order) Filled() int64 { return o.Quantity - o.Remaining }

// Fill is one match between the incoming (taker) order and a resting (maker)
// order, executed at the maker's price.
type Fill struct {
	TakerID     uint64
	MakerID     uint64
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       string
	Seller      string
	Price       int64
	Qty         int64
	MakerDone   bool // resting order fully filled and removed
}

type PriceLevel struct {
	Price int64
	Qty   int64 // total qty at this price level
}
