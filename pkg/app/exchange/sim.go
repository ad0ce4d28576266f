package exchange

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/marketmaker"
)

// DemoConfig scripts the walkthrough: a round of IPO purchases, two fixed
// market maker trades, then RandomTrades random ones.
type DemoConfig struct {
	IPO          []DemoStep
	Buy          DemoStep // participant buys from the market maker
	Sell         DemoStep // participant sells to the market maker
	RandomTrades int
	MaxRandomQty int64
	Seed         int64
}

type DemoStep struct {
	Name string
	Qty  int64
}

func DefaultDemo() DemoConfig {
	return DemoConfig{
		IPO: []DemoStep{
			{Name: "Olin", Qty: 30},
			{Name: "Mig", Qty: 20},
			{Name: "Albert", Qty: 10},
		},
		Buy:          DemoStep{Name: "Olin", Qty: 5},
		Sell:         DemoStep{Name: "Mig", Qty: 3},
		RandomTrades: 3,
		MaxRandomQty: 5,
		Seed:         1,
	}
}

// RunDemo drives app through cfg and prints a narrated account of every
// step to w. Random picks are drawn from the app's current balance sheet.
func RunDemo(ctx context.Context, app *App, w io.Writer, cfg DemoConfig) error {
	rng := rand.New(rand.NewSource(cfg.Seed))

	printBalanceSheet(w, app)

	for _, step := range cfg.IPO {
		res, err := app.IPOSale(ctx, step.Name, step.Qty)
		if err != nil {
			return fmt.Errorf("ipo %s: %w", step.Name, err)
		}
		printIPO(w, res)
	}
	printBalanceSheet(w, app)

	if cfg.Buy.Name != "" {
		if err := demoTrade(ctx, app, w, cfg.Buy.Name, "", cfg.Buy.Qty); err != nil {
			return err
		}
	}
	if cfg.Sell.Name != "" {
		if err := demoTrade(ctx, app, w, "", cfg.Sell.Name, cfg.Sell.Qty); err != nil {
			return err
		}
	}
	printBalanceSheet(w, app)

	maxQty := cfg.MaxRandomQty
	if maxQty <= 0 {
		maxQty = 1
	}
	for i := 0; i < cfg.RandomTrades; i++ {
		people := app.BalanceSheet()
		if len(people) == 0 {
			break
		}
		person := people[rng.Intn(len(people))].Name
		qty := rng.Int63n(maxQty) + 1

		printBalanceSheet(w, app)
		var err error
		if rng.Intn(2) == 0 {
			err = demoTrade(ctx, app, w, person, "", qty)
		} else {
			err = demoTrade(ctx, app, w, "", person, qty)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func demoTrade(ctx context.Context, app *App, w io.Writer, buyer, seller string, qty int64) error {
	res, err := app.MarketMakerTrade(ctx, buyer, seller, qty)
	if err != nil {
		return fmt.Errorf("market maker trade: %w", err)
	}
	printMarketMaker(w, res)
	return nil
}

func printBalanceSheet(w io.Writer, app *App) {
	fmt.Fprintln(w, "Balance Sheet:")
	fmt.Fprintln(w, "===========================")
	for _, p := range app.BalanceSheet() {
		fmt.Fprintf(w, "Name: %s, Shares: %d, Money: $%s\n", p.Name, p.Shares, p.Cash.StringFixed(2))
	}
	fmt.Fprintln(w, "===========================")
}

func printIPO(w io.Writer, res issuance.Result) {
	switch res.Outcome {
	case issuance.InsufficientFunds:
		fmt.Fprintf(w, "%s doesn't have enough money to buy more shares.\n", res.Buyer)
	case issuance.SoldOut:
		fmt.Fprintln(w, "The offering is sold out.")
	}
	fmt.Fprintf(w, "%s buys %d of %d shares at an average price of %s each.\n",
		res.Buyer, res.Filled, res.Requested, res.AveragePrice.StringFixed(2))
	fmt.Fprintf(w, "Organization receives $%s. Total money: $%s\n",
		res.TotalCost.StringFixed(2), res.Proceeds.StringFixed(2))
	fmt.Fprintf(w, "Shares left after IPO: %d, Share price: %s\n\n",
		res.Remaining, res.NewPrice.StringFixed(2))
}

func printMarketMaker(w io.Writer, res marketmaker.Result) {
	switch res.Outcome {
	case marketmaker.InsufficientFunds:
		fmt.Fprintf(w, "%s doesn't have enough money to buy more shares.\n", res.Participant)
	case marketmaker.InsufficientShares:
		fmt.Fprintf(w, "%s doesn't have enough shares to sell.\n", res.Participant)
	case marketmaker.MakerInventoryExhausted:
		fmt.Fprintln(w, "The market maker has run out of shares.")
	case marketmaker.MakerCashExhausted:
		fmt.Fprintln(w, "The market maker has run out of cash.")
	}
	verb, dir := "buys", "from"
	if res.Side == marketmaker.Sell {
		verb, dir = "sells", "to"
	}
	fmt.Fprintf(w, "%s %s %d of %d shares %s the market maker at %s each.\n",
		res.Participant, verb, res.Filled, res.Requested, dir, res.UnitPrice.StringFixed(2))
	fmt.Fprintf(w, "Market Maker inventory: %d, Market Maker cash: %s\n",
		res.MakerInventory, res.MakerCash.StringFixed(2))
	fmt.Fprintf(w, "Current share price: %s\n\n", res.ReferencePrice.StringFixed(2))
}
