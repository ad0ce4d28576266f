package orderbook

import (
	"math/rand"
	"strconv"
	"testing"
)

func prefill(b *testing.B, levels, perLevel int) *OrderBook {
	b.Helper()
	ob := NewOrderBook()
	for i := 0; i < levels; i++ {
		for j := 0; j < perLevel; j++ {
			owner := strconv.Itoa(j)
			if _, err := ob.Place(&Order{Side: Buy, Owner: owner, Price: int64(10000 - i), Quantity: 100}); err != nil {
				b.Fatal(err)
			}
			if _, err := ob.Place(&Order{Side: Sell, Owner: owner, Price: int64(11000 + i), Quantity: 100}); err != nil {
				b.Fatal(err)
			}
		}
	}
	return ob
}

// BenchmarkPlaceResting measures placement of orders that never cross
func BenchmarkPlaceResting(b *testing.B) {
	ob := prefill(b, 100, 1)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		side, price := Buy, int64(9000+i%500)
		if i%2 == 0 {
			side, price = Sell, int64(12000+i%500)
		}
		ob.Place(&Order{Side: side, Owner: "bench", Price: price, Quantity: 10})
	}
}

// BenchmarkPlaceCrossing alternates buys and sells at mid so every order
// after the first fills against the previous one.
func BenchmarkPlaceCrossing(b *testing.B) {
	ob := prefill(b, 100, 1)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		side := Buy
		if i%2 == 0 {
			side = Sell
		}
		ob.Place(&Order{Side: side, Owner: "bench", Price: 10500, Quantity: 10})
	}
}

// BenchmarkBestPrice measures best bid/ask lookup (heap peek)
func BenchmarkBestPrice(b *testing.B) {
	ob := prefill(b, 1000, 1)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = ob.BestBid()
		_ = ob.BestAsk()
	}
}

// BenchmarkLevels measures depth aggregation, used by the API and state hash
func BenchmarkLevels(b *testing.B) {
	ob := prefill(b, 500, 5)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = ob.BidLevels()
		_ = ob.AskLevels()
	}
}

// BenchmarkClone measures the copy taken before every staged placement
func BenchmarkClone(b *testing.B) {
	ob := prefill(b, 200, 3)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = ob.Clone()
	}
}

// BenchmarkRealisticWorkload mixes marketable and resting orders around mid
func BenchmarkRealisticWorkload(b *testing.B) {
	ob := prefill(b, 100, 2)
	rng := rand.New(rand.NewSource(42))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		side := Buy
		if rng.Intn(2) == 0 {
			side = Sell
		}
		var price int64
		if rng.Intn(10) < 7 {
			// marketable
			price = 10000 + rng.Int63n(1001)
			if side == Buy {
				price += 1000
			}
		} else {
			price = 10001 + rng.Int63n(999)
		}
		ob.Place(&Order{Side: side, Owner: "bench", Price: price, Quantity: 1 + rng.Int63n(50)})
	}
}
