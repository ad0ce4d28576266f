package storage

import (
	"encoding/binary"
	"fmt"
)

// Key schema for Pebble storage
//
//   acc:<name>          → Participant
//   reg:<8-byte ordinal> → participant name (registration order)
//   mm                  → MarketMaker
//   off                 → Offering
//   ord:<8-byte id>     → resting Order
//   trade:<8-byte seq>  → trade Record
//   meta:next_order     → next order id
//   meta:trade_seq      → last trade sequence
//   meta:last_price     → last order-book fill price (ticks)
//
// Ordinals, ids and sequence numbers are big-endian so prefix scans come
// back in numeric order.

// Key prefixes
const (
	prefixAccount  = "acc:"
	prefixRegister = "reg:"
	prefixOrder    = "ord:"
	prefixTrade    = "trade:"
)

var (
	keyMaker         = []byte("mm")
	keyOffering      = []byte("off")
	keyNextOrderID   = []byte("meta:next_order")
	keyLastTradeSeq  = []byte("meta:trade_seq")
	keyLastBookPrice = []byte("meta:last_price")
)

// accountKey returns the key for a participant
// Format: "acc:{name}"
func accountKey(name string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, name))
}

func registerKey(ordinal uint64) []byte { return seqKey(prefixRegister, ordinal) }
func orderKey(id uint64) []byte         { return seqKey(prefixOrder, id) }
func tradeKey(seq uint64) []byte        { return seqKey(prefixTrade, seq) }

func seqKey(prefix string, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

func seqFromKey(prefix string, k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(prefix):])
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
