// Package issuance runs the initial public offering: participants buy
// shares directly from the issuer at a price that is recomputed after every
// unit sold.
package issuance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/pricing"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Offering is the issuer's state. Price is the shared reference price that
// the market maker quotes around.
type Offering struct {
	TotalShares int64           `json:"total_shares"`
	Remaining   int64           `json:"shares_left"`
	Proceeds    decimal.Decimal `json:"organization_money"`
	Price       decimal.Decimal `json:"current_share_price"`
}

// NewOffering opens an issue of total shares at the starting price.
func NewOffering(total int64, initialPrice decimal.Decimal) Offering {
	return Offering{
		TotalShares: total,
		Remaining:   total,
		Proceeds:    decimal.Zero,
		Price:       initialPrice,
	}
}

// Sold returns the number of shares already sold.
func (o Offering) Sold() int64 { return o.TotalShares - o.Remaining }

// Validate checks offering invariants
func (o Offering) Validate() error {
	if o.TotalShares < 0 {
		return fmt.Errorf("total shares cannot be negative: %d", o.TotalShares)
	}
	if o.Remaining < 0 || o.Remaining > o.TotalShares {
		return fmt.Errorf("remaining shares %d outside [0, %d]", o.Remaining, o.TotalShares)
	}
	if o.Proceeds.IsNegative() {
		return fmt.Errorf("negative proceeds: %s", o.Proceeds)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("share price must be positive: %s", o.Price)
	}
	return nil
}

// Outcome explains why a buy stopped.
type Outcome string

const (
	Filled            Outcome = "filled"
	InsufficientFunds Outcome = "insufficient_funds"
	SoldOut           Outcome = "sold_out"
)

// Result reports an IPO purchase. AveragePrice is zero when nothing filled.
type Result struct {
	Buyer        string
	Requested    int64
	Filled       int64
	TotalCost    decimal.Decimal
	AveragePrice decimal.Decimal
	Remaining    int64
	NewPrice     decimal.Decimal
	Proceeds     decimal.Decimal
	Outcome      Outcome
	Trades       []trade.Record
}

// Partial reports whether fewer shares were bought than requested.
func (r Result) Partial() bool { return r.Filled < r.Requested }

// Engine sells shares one unit at a time.
type Engine struct {
	Model pricing.Model
	// Ratchet keeps the reference price from falling when the model price
	// for the remaining inventory is below the current price.
	Ratchet bool
}

// Buy sells up to qty shares to buyer. Balances are staged on tx and the
// offering is updated in place; the caller decides whether to commit.
//
// Each unit is priced separately, so a multi-share purchase pays a rising
// price as inventory depletes. Running out of cash or inventory is not an
// error: the result reports how many shares were bought and why it stopped.
func (e Engine) Buy(tx *ledger.Tx, off *Offering, buyer string, qty int64) (Result, error) {
	if qty < 0 {
		return Result{}, fmt.Errorf("%w: negative share quantity %d", core.ErrInvalidRequest, qty)
	}
	p, err := tx.Get(buyer)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Buyer:     buyer,
		Requested: qty,
		TotalCost: decimal.Zero,
		Outcome:   Filled,
	}

	cash := p.Cash
	for res.Filled < qty {
		if off.Remaining == 0 {
			res.Outcome = SoldOut
			break
		}
		price := off.Price
		if cash.LessThan(price) {
			res.Outcome = InsufficientFunds
			break
		}
		if err := tx.DebitCash(buyer, price); err != nil {
			return Result{}, err
		}
		if err := tx.CreditShares(buyer, 1); err != nil {
			return Result{}, err
		}
		cash = cash.Sub(price)
		off.Remaining--
		off.Proceeds = off.Proceeds.Add(price)
		off.Price = e.nextPrice(off.Price, off.Remaining)

		res.Filled++
		res.TotalCost = res.TotalCost.Add(price)
		res.Trades = append(res.Trades, trade.New(trade.KindIPO, buyer, core.IssuerID, 1, price))
	}

	if res.Filled > 0 {
		res.AveragePrice = res.TotalCost.Div(decimal.NewFromInt(res.Filled))
	}
	res.Remaining = off.Remaining
	res.NewPrice = off.Price
	res.Proceeds = off.Proceeds
	return res, nil
}

func (e Engine) nextPrice(current decimal.Decimal, remaining int64) decimal.Decimal {
	next := e.Model.AdjustPrice(remaining)
	if e.Ratchet && next.LessThan(current) {
		return current
	}
	return next
}
