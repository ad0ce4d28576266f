// Package core holds the error taxonomy and identifiers shared by the market
// engines (ledger, pricing, issuance, marketmaker, orderbook).
package core

import "errors"

var (
	// ErrNotFound is returned when a participant is unknown to the ledger.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest covers malformed requests: negative quantities,
	// both or neither market-maker side, bad prices.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidOrderType is returned for an order side other than buy/sell.
	ErrInvalidOrderType = &invalidOrderTypeError{}

	// ErrInsufficientFunds and ErrInsufficientShares are raised by the ledger
	// when a debit would drive a balance negative. Engines check affordability
	// first and report shortfalls as partial fills instead.
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrPersistence wraps storage commit failures. In-memory state is left
	// untouched when it is returned, so the request can be retried.
	ErrPersistence = errors.New("persistence failure")
)

type invalidOrderTypeError struct{}

func (*invalidOrderTypeError) Error() string { return "invalid order type" }

// Is makes ErrInvalidOrderType match ErrInvalidRequest as well.
func (*invalidOrderTypeError) Is(target error) bool { return target == ErrInvalidRequest }
