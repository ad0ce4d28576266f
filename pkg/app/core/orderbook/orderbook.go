// Package orderbook matches buy and sell limit orders by price-time priority.
package orderbook

import (
	"fmt"
	"sort"

	"github.com/uhyunpark/minimarket/pkg/app/core"
)

// OrderBook keeps resting orders in FIFO slices per price level, with heaps
// for O(1) best-price lookup.
//
// The book is not safe for concurrent use; the exchange serializes access.
type OrderBook struct {
	// Best price tracking (O(1) peek)
	bidHeap *priceHeap
	askHeap *priceHeap

	// Price level queues (FIFO matching at each price)
	bids map[int64][]*Order // price -> FIFO slice
	asks map[int64][]*Order

	orderIndex map[uint64]*Order // order ID -> resting order

	nextID    uint64
	lastPrice int64 // most recent fill price
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bidHeap:    newBidHeap(),
		askHeap:    newAskHeap(),
		bids:       make(map[int64][]*Order),
		asks:       make(map[int64][]*Order),
		orderIndex: make(map[uint64]*Order),
		nextID:     1,
	}
}

func (ob *OrderBook) bestBid() (int64, bool) { return ob.bidHeap.best() }
func (ob *OrderBook) bestAsk() (int64, bool) { return ob.askHeap.best() }

func (ob *OrderBook) rest(o *Order) {
	if o.Side == Buy {
		if len(ob.bids[o.Price]) == 0 {
			ob.bidHeap.add(o.Price)
		}
		ob.bids[o.Price] = append(ob.bids[o.Price], o)
	} else {
		if len(ob.asks[o.Price]) == 0 {
			ob.askHeap.add(o.Price)
		}
		ob.asks[o.Price] = append(ob.asks[o.Price], o)
	}
	ob.orderIndex[o.ID] = o
}

// NextID returns the sequence number the next placed order will receive.
func (ob *OrderBook) NextID() uint64 { return ob.nextID }

// Place assigns the order its sequence number, matches it against the
// opposite side and rests any remainder. The incoming order's ID, Quantity
// and Remaining are set on o.
//
// A buy crosses any ask priced at or below its limit, a sell any bid at or
// above. The best price is taken first and, within a price, the earliest
// order. Fills execute at the resting order's price.
func (ob *OrderBook) Place(o *Order) ([]Fill, error) {
	if o.Side != Buy && o.Side != Sell {
		return nil, fmt.Errorf("side %d: %w", o.Side, core.ErrInvalidOrderType)
	}
	if o.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", core.ErrInvalidRequest)
	}
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", core.ErrInvalidRequest)
	}

	o.ID = ob.nextID
	ob.nextID++
	o.Remaining = o.Quantity

	var fills []Fill
	if o.Side == Buy {
		for o.Remaining > 0 {
			askP, ok := ob.bestAsk()
			if !ok || askP > o.Price {
				break
			}
			level := ob.asks[askP]
			if len(level) == 0 {
				delete(ob.asks, askP)
				ob.askHeap.remove(askP)
				continue
			}
			maker := level[0]
			match := min(o.Remaining, maker.Remaining)
			o.Remaining -= match
			maker.Remaining -= match
			ob.lastPrice = askP
			fills = append(fills, Fill{
				TakerID: o.ID, MakerID: maker.ID,
				BuyOrderID: o.ID, SellOrderID: maker.ID,
				Buyer: o.Owner, Seller: maker.Owner,
				Price: askP, Qty: match, MakerDone: maker.Remaining == 0,
			})
			if maker.Remaining == 0 {
				ob.asks[askP] = level[1:]
				delete(ob.orderIndex, maker.ID)
				if len(ob.asks[askP]) == 0 {
					delete(ob.asks, askP)
					ob.askHeap.remove(askP)
				}
			}
		}
	} else {
		for o.Remaining > 0 {
			bidP, ok := ob.bestBid()
			if !ok || bidP < o.Price {
				break
			}
			level := ob.bids[bidP]
			if len(level) == 0 {
				delete(ob.bids, bidP)
				ob.bidHeap.remove(bidP)
				continue
			}
			maker := level[0]
			match := min(o.Remaining, maker.Remaining)
			o.Remaining -= match
			maker.Remaining -= match
			ob.lastPrice = bidP
			fills = append(fills, Fill{
				TakerID: o.ID, MakerID: maker.ID,
				BuyOrderID: maker.ID, SellOrderID: o.ID,
				Buyer: maker.Owner, Seller: o.Owner,
				Price: bidP, Qty: match, MakerDone: maker.Remaining == 0,
			})
			if maker.Remaining == 0 {
				ob.bids[bidP] = level[1:]
				delete(ob.orderIndex, maker.ID)
				if len(ob.bids[bidP]) == 0 {
					delete(ob.bids, bidP)
					ob.bidHeap.remove(bidP)
				}
			}
		}
	}

	if o.Remaining > 0 {
		cp := *o
		ob.rest(&cp)
	}
	return fills, nil
}

// Get returns a copy of a resting order.
func (ob *OrderBook) Get(id uint64) (Order, bool) {
	o, ok := ob.orderIndex[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of resting orders per side, in insertion order.
func (ob *OrderBook) Orders() (buys, sells []Order) {
	buys = make([]Order, 0)
	sells = make([]Order, 0)
	for _, o := range ob.orderIndex {
		if o.Side == Buy {
			buys = append(buys, *o)
		} else {
			sells = append(sells, *o)
		}
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].ID < buys[j].ID })
	sort.Slice(sells, func(i, j int) bool { return sells[i].ID < sells[j].ID })
	return buys, sells
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.orderIndex) }

// Restore rebuilds the book from persisted resting orders. nextID is raised
// past every restored ID.
func (ob *OrderBook) Restore(orders []Order, nextID uint64) error {
	sorted := append([]Order(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		o := sorted[i]
		if o.Side != Buy && o.Side != Sell {
			return fmt.Errorf("restore order %d: %w", o.ID, core.ErrInvalidOrderType)
		}
		if o.Remaining <= 0 || o.Price <= 0 {
			return fmt.Errorf("restore order %d: non-positive price or remaining", o.ID)
		}
		if _, dup := ob.orderIndex[o.ID]; dup {
			return fmt.Errorf("restore order %d: duplicate id", o.ID)
		}
		ob.rest(&o)
		if o.ID >= nextID {
			nextID = o.ID + 1
		}
	}
	if nextID > ob.nextID {
		ob.nextID = nextID
	}
	return nil
}

// Clone returns a deep copy, used to stage a placement before it commits.
func (ob *OrderBook) Clone() *OrderBook {
	c := NewOrderBook()
	c.nextID = ob.nextID
	c.lastPrice = ob.lastPrice

	copyLevels := func(dst, src map[int64][]*Order) {
		for price, level := range src {
			cl := make([]*Order, len(level))
			for i, o := range level {
				cp := *o
				cl[i] = &cp
				c.orderIndex[cp.ID] = &cp
			}
			dst[price] = cl
		}
	}
	copyLevels(c.bids, ob.bids)
	copyLevels(c.asks, ob.asks)

	c.bidHeap = ob.bidHeap.clone()
	c.askHeap = ob.askHeap.clone()
	return c
}

// BidLevels returns all bid price levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels() []PriceLevel {
	return levels(ob.bids, func(a, b int64) bool { return a > b })
}

// AskLevels returns all ask price levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels() []PriceLevel {
	return levels(ob.asks, func(a, b int64) bool { return a < b })
}

func levels(side map[int64][]*Order, better func(a, b int64) bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(side))
	for price, orders := range side {
		if len(orders) == 0 {
			continue
		}
		var totalQty int64
		for _, o := range orders {
			totalQty += o.Remaining
		}
		out = append(out, PriceLevel{Price: price, Qty: totalQty})
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	return out
}

// BestBid returns the highest bid price, or 0 if there are no bids.
func (ob *OrderBook) BestBid() int64 {
	p, _ := ob.bestBid()
	return p
}

// BestAsk returns the lowest ask price, or 0 if there are no asks.
func (ob *OrderBook) BestAsk() int64 {
	p, _ := ob.bestAsk()
	return p
}

// LastPrice returns the price of the most recent fill, or 0 if none.
func (ob *OrderBook) LastPrice() int64 { return ob.lastPrice }

// SetLastPrice seeds the last fill price after a restore.
func (ob *OrderBook) SetLastPrice(p int64) { ob.lastPrice = p }
