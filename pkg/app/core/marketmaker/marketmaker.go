// Package marketmaker quotes a bid/ask spread around the reference price and
// fills participant requests against the market maker's own inventory and
// cash. It never moves the reference price.
package marketmaker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Spread holds the multipliers applied to the reference price.
type Spread struct {
	BidMultiplier decimal.Decimal
	AskMultiplier decimal.Decimal
}

// DefaultSpread quotes 5% either side of the reference price.
func DefaultSpread() Spread {
	return Spread{
		BidMultiplier: decimal.RequireFromString("0.95"),
		AskMultiplier: decimal.RequireFromString("1.05"),
	}
}

// Validate checks spread sanity
func (s Spread) Validate() error {
	if !s.BidMultiplier.IsPositive() {
		return fmt.Errorf("bid multiplier must be positive")
	}
	if s.AskMultiplier.LessThan(s.BidMultiplier) {
		return fmt.Errorf("ask multiplier (%s) below bid multiplier (%s)", s.AskMultiplier, s.BidMultiplier)
	}
	return nil
}

// Quote is the market maker's two-sided price.
type Quote struct {
	Reference decimal.Decimal `json:"reference"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
}

// Quote derives bid and ask from the reference price.
func (s Spread) Quote(price decimal.Decimal) Quote {
	return Quote{
		Reference: price,
		Bid:       price.Mul(s.BidMultiplier),
		Ask:       price.Mul(s.AskMultiplier),
	}
}

// Side is the participant's side of the trade.
type Side string

const (
	Buy  Side = "buy"  // participant buys from the market maker at the ask
	Sell Side = "sell" // participant sells to the market maker at the bid
)

// Outcome explains a fill that stopped short of the request.
type Outcome string

const (
	Filled                  Outcome = "filled"
	InsufficientFunds       Outcome = "insufficient_funds"
	InsufficientShares      Outcome = "insufficient_shares"
	MakerInventoryExhausted Outcome = "maker_inventory_exhausted"
	MakerCashExhausted      Outcome = "maker_cash_exhausted"
)

// Request names exactly one of Buyer or Seller.
type Request struct {
	Buyer    string
	Seller   string
	Quantity int64
}

// Result reports a market maker fill. The affordable prefix of the request
// is filled; Outcome says what limited it when Filled < Requested.
type Result struct {
	Side           Side
	Participant    string
	Requested      int64
	Filled         int64
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	Outcome        Outcome
	MakerInventory int64
	MakerCash      decimal.Decimal
	ReferencePrice decimal.Decimal
	Trade          *trade.Record
}

// Partial reports whether fewer shares were traded than requested.
func (r Result) Partial() bool { return r.Filled < r.Requested }

// Engine fills requests at the quoted spread.
type Engine struct {
	Spread Spread
}

// Trade services one side of a request at the quote derived from price.
// Balances are staged on tx; the caller commits.
func (e Engine) Trade(tx *ledger.Tx, price decimal.Decimal, req Request) (Result, error) {
	switch {
	case req.Buyer != "" && req.Seller != "":
		return Result{}, fmt.Errorf("%w: specify either buyer or seller, not both", core.ErrInvalidRequest)
	case req.Buyer == "" && req.Seller == "":
		return Result{}, fmt.Errorf("%w: buyer or seller is required", core.ErrInvalidRequest)
	case req.Quantity < 0:
		return Result{}, fmt.Errorf("%w: negative share quantity %d", core.ErrInvalidRequest, req.Quantity)
	}

	q := e.Spread.Quote(price)
	if req.Buyer != "" {
		return e.buy(tx, q, req.Buyer, req.Quantity)
	}
	return e.sell(tx, q, req.Seller, req.Quantity)
}

func (e Engine) buy(tx *ledger.Tx, q Quote, buyer string, qty int64) (Result, error) {
	p, err := tx.Get(buyer)
	if err != nil {
		return Result{}, err
	}
	maker := tx.Maker()

	fill, outcome := qty, Filled
	if maker.Inventory < fill {
		fill, outcome = maker.Inventory, MakerInventoryExhausted
	}
	if affordable := unitsAffordable(p.Cash, q.Ask); affordable < fill {
		fill, outcome = affordable, InsufficientFunds
	}

	res := Result{
		Side:           Buy,
		Participant:    buyer,
		Requested:      qty,
		Filled:         fill,
		UnitPrice:      q.Ask,
		Total:          q.Ask.Mul(decimal.NewFromInt(fill)),
		Outcome:        outcome,
		ReferencePrice: q.Reference,
	}
	if fill > 0 {
		if err := tx.DebitCash(buyer, res.Total); err != nil {
			return Result{}, err
		}
		if err := tx.CreditShares(buyer, fill); err != nil {
			return Result{}, err
		}
		if err := tx.AdjustMaker(-fill, res.Total); err != nil {
			return Result{}, err
		}
		rec := trade.New(trade.KindMarketMaker, buyer, core.MarketMakerID, fill, q.Ask)
		res.Trade = &rec
	}
	res.MakerInventory = tx.Maker().Inventory
	res.MakerCash = tx.Maker().Cash
	return res, nil
}

func (e Engine) sell(tx *ledger.Tx, q Quote, seller string, qty int64) (Result, error) {
	p, err := tx.Get(seller)
	if err != nil {
		return Result{}, err
	}
	maker := tx.Maker()

	fill, outcome := qty, Filled
	if p.Shares < fill {
		fill, outcome = p.Shares, InsufficientShares
	}
	if affordable := unitsAffordable(maker.Cash, q.Bid); affordable < fill {
		fill, outcome = affordable, MakerCashExhausted
	}

	res := Result{
		Side:           Sell,
		Participant:    seller,
		Requested:      qty,
		Filled:         fill,
		UnitPrice:      q.Bid,
		Total:          q.Bid.Mul(decimal.NewFromInt(fill)),
		Outcome:        outcome,
		ReferencePrice: q.Reference,
	}
	if fill > 0 {
		if err := tx.DebitShares(seller, fill); err != nil {
			return Result{}, err
		}
		if err := tx.CreditCash(seller, res.Total); err != nil {
			return Result{}, err
		}
		if err := tx.AdjustMaker(fill, res.Total.Neg()); err != nil {
			return Result{}, err
		}
		rec := trade.New(trade.KindMarketMaker, core.MarketMakerID, seller, fill, q.Bid)
		res.Trade = &rec
	}
	res.MakerInventory = tx.Maker().Inventory
	res.MakerCash = tx.Maker().Cash
	return res, nil
}

// unitsAffordable returns floor(cash / unit), or 0 for a non-positive unit price.
func unitsAffordable(cash, unit decimal.Decimal) int64 {
	if !unit.IsPositive() || cash.IsNegative() {
		return 0
	}
	n := cash.Div(unit).Floor().IntPart()
	// Div rounds at DivisionPrecision; step back if that rounded up past cash.
	for n > 0 && unit.Mul(decimal.NewFromInt(n)).GreaterThan(cash) {
		n--
	}
	return n
}
