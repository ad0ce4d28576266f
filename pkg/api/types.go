package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// API request and response types for REST endpoints and WebSocket messages.
// Money is rendered as a JSON number.

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the body of POST /order
type PlaceOrderRequest struct {
	Type     string          `json:"type"`    // "buy" or "sell"
	UserID   UserID          `json:"user_id"` // number or string
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// UserID accepts either a JSON string or an integer. Order owners are
// free-form ids, not ledger participants.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("user_id must be a string or an integer: %s", b)
	}
	*u = UserID(strconv.FormatInt(n, 10))
	return nil
}

// ==============================
// REST Response Types
// ==============================

// BalanceEntry is one row of the balance sheet
type BalanceEntry struct {
	Name   string      `json:"name"`
	Shares int64       `json:"shares"`
	Money  json.Number `json:"money"`
}

type BalanceSheetResponse struct {
	BalanceSheet []BalanceEntry `json:"balance_sheet"`
}

// MarketDataResponse is the issuer, quote and market maker state
type MarketDataResponse struct {
	CurrentSharePrice    json.Number  `json:"current_share_price"`
	OrganizationMoney    json.Number  `json:"organization_money"`
	SharesLeft           int64        `json:"shares_left"`
	TotalShares          int64        `json:"total_shares"`
	Bid                  json.Number  `json:"bid"`
	Ask                  json.Number  `json:"ask"`
	MarketMakerInventory int64        `json:"market_maker_inventory"`
	MarketMakerCash      json.Number  `json:"market_maker_cash"`
	LastBookPrice        *json.Number `json:"last_book_price,omitempty"` // absent until the book trades
	TradeSeq             uint64       `json:"trade_seq"`
}

// IPOSaleResponse reports an IPO purchase
type IPOSaleResponse struct {
	Message           string      `json:"message"`
	SharesRequested   int64       `json:"shares_requested"`
	SharesBought      int64       `json:"shares_bought"`
	TotalCost         json.Number `json:"total_cost"`
	AveragePrice      json.Number `json:"average_price"`
	OrganizationMoney json.Number `json:"organization_money"`
	SharesLeft        int64       `json:"shares_left"`
	CurrentSharePrice json.Number `json:"current_share_price"`
	Outcome           string      `json:"outcome"`
}

// MarketMakerTradeResponse reports a fill against the market maker. Exactly
// one of SharesBought and SharesSold is set.
type MarketMakerTradeResponse struct {
	Message              string      `json:"message"`
	SharesRequested      int64       `json:"shares_requested"`
	SharesBought         *int64      `json:"shares_bought,omitempty"`
	SharesSold           *int64      `json:"shares_sold,omitempty"`
	UnitPrice            json.Number `json:"price_per_share"`
	TotalAmount          json.Number `json:"total_amount"`
	MarketMakerInventory int64       `json:"market_maker_inventory"`
	MarketMakerCash      json.Number `json:"market_maker_cash"`
	CurrentSharePrice    json.Number `json:"current_share_price"`
	Outcome              string      `json:"outcome"`
}

// MatchInfo is one order book fill
type MatchInfo struct {
	BuyOrderID  uint64      `json:"buy_order_id"`
	SellOrderID uint64      `json:"sell_order_id"`
	Buyer       string      `json:"buyer"`
	Seller      string      `json:"seller"`
	Price       json.Number `json:"price"`
	Quantity    int64       `json:"quantity"`
}

// PlaceOrderResponse reports a limit order placement. MatchResult is
// omitted when the order rests without matching.
type PlaceOrderResponse struct {
	Message     string      `json:"message"`
	MatchResult string      `json:"match_result,omitempty"`
	Matches     []MatchInfo `json:"matches"`
	OrderID     uint64      `json:"order_id"`
	Remaining   int64       `json:"remaining"`
}

// OrdersResponse lists resting orders as [id, user, price, quantity] tuples
// in insertion order.
type OrdersResponse struct {
	BuyOrders  [][]any `json:"buy_orders"`
	SellOrders [][]any `json:"sell_orders"`
}

type TradesResponse struct {
	Trades []trade.Record `json:"trades"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	StateHash string `json:"state_hash"`
	TradeSeq  uint64 `json:"trade_seq"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "trades", "orderbook", "market"
}

// WSMessage is every server push. Data depends on Type.
type WSMessage struct {
	Type      string   `json:"type"` // "subscribed", "unsubscribed", "trade", "orderbook", "market"
	Channels  []string `json:"channels,omitempty"`
	Data      any      `json:"data,omitempty"`
	Timestamp int64    `json:"timestamp"` // Unix milliseconds
}

// WebSocket channels
const (
	ChannelTrades    = "trades"
	ChannelOrderbook = "orderbook"
	ChannelMarket    = "market"
)

func number(d decimal.Decimal) json.Number { return json.Number(d.String()) }

// userValue renders an order owner as a JSON number when it is a canonical
// integer, as clients posting numeric user ids expect it back.
func userValue(owner string) any {
	if n, err := strconv.ParseInt(owner, 10, 64); err == nil && strconv.FormatInt(n, 10) == owner {
		return n
	}
	return owner
}
