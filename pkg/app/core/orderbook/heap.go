package orderbook

import "container/heap"

// priceHeap holds the distinct price levels of one side of the book with the
// best price on top. It implements heap.Interface; use the methods below
// rather than container/heap directly.
type priceHeap struct {
	prices []int64
	better func(a, b int64) bool
}

func newBidHeap() *priceHeap {
	return &priceHeap{better: func(a, b int64) bool { return a > b }}
}

func newAskHeap() *priceHeap {
	return &priceHeap{better: func(a, b int64) bool { return a < b }}
}

func (h *priceHeap) Len() int           { return len(h.prices) }
func (h *priceHeap) Less(i, j int) bool { return h.better(h.prices[i], h.prices[j]) }
func (h *priceHeap) Swap(i, j int)      { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }
func (h *priceHeap) Push(x any)         { h.prices = append(h.prices, x.(int64)) }

func (h *priceHeap) Pop() any {
	n := len(h.prices)
	x := h.prices[n-1]
	h.prices = h.prices[:n-1]
	return x
}

// best returns the top price level.
func (h *priceHeap) best() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// add registers a new price level.
func (h *priceHeap) add(price int64) { heap.Push(h, price) }

// remove drops a price level. O(n) in the number of levels; levels are only
// removed when they empty.
func (h *priceHeap) remove(price int64) {
	for i, p := range h.prices {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}

func (h *priceHeap) clone() *priceHeap {
	return &priceHeap{prices: append([]int64(nil), h.prices...), better: h.better}
}
