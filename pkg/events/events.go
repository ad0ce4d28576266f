// Package events fans committed trades out to message buses.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Publisher delivers one trade to a downstream sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, t trade.Record) error
	Close() error
}

// TradeEvent is the wire payload for every sink.
type TradeEvent struct {
	EventType string       `json:"event_type"`
	Trade     trade.Record `json:"trade"`
}

func encode(t trade.Record) ([]byte, error) {
	b, err := json.Marshal(TradeEvent{EventType: "trade." + string(t.Kind), Trade: t})
	if err != nil {
		return nil, fmt.Errorf("marshal trade %d: %w", t.Seq, err)
	}
	return b, nil
}
