package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Market struct {
	TotalShares  int64
	InitialPrice decimal.Decimal

	// Price model: K / remaining, clamped to [Floor, Ceiling]
	PriceK       decimal.Decimal
	PriceCeiling decimal.Decimal
	PriceFloor   decimal.Decimal
	// PriceRatchet stops IPO sales from lowering the reference price.
	PriceRatchet bool

	// TickSize converts decimal limit prices to integer order-book ticks.
	TickSize decimal.Decimal
}

type MarketMaker struct {
	BidMultiplier decimal.Decimal
	AskMultiplier decimal.Decimal
	Inventory     int64
	Cash          decimal.Decimal
}

// Seed is a participant created on first start.
type Seed struct {
	Name   string
	Shares int64
	Cash   decimal.Decimal
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Storage struct {
	Backend     string // memory | pebble | postgres
	PebblePath  string
	PostgresDSN string
	JournalFile string // append-only trade journal; empty disables it
}

type Events struct {
	NATSURL      string
	NATSSubject  string
	KafkaBrokers []string
	KafkaTopic   string
}

type Log struct {
	File  string
	Level string
}

type Feed struct {
	// Interval between generated orders when the feeder is enabled.
	Interval time.Duration
	Seed     int64
}

type Config struct {
	Market      Market
	MarketMaker MarketMaker
	Seeds       []Seed
	API         API
	Storage     Storage
	Events      Events
	Log         Log
	Feed        Feed
}

const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

func Default() Config {
	thousand := decimal.NewFromInt(1000)
	return Config{
		Market: Market{
			TotalShares:  100,
			InitialPrice: decimal.NewFromInt(10),
			PriceK:       decimal.NewFromInt(100),
			PriceCeiling: decimal.NewFromInt(100),
			PriceFloor:   decimal.NewFromInt(1),
			PriceRatchet: true,
			TickSize:     decimal.RequireFromString("0.01"),
		},
		MarketMaker: MarketMaker{
			BidMultiplier: decimal.RequireFromString("0.95"),
			AskMultiplier: decimal.RequireFromString("1.05"),
			Inventory:     50,
			Cash:          thousand,
		},
		Seeds: []Seed{
			{Name: "Olin", Cash: thousand},
			{Name: "Mig", Cash: thousand},
			{Name: "Albert", Cash: thousand},
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{
			Backend:    BackendMemory,
			PebblePath: "./data/market",
		},
		Events: Events{
			NATSSubject: "minimarket.trades",
			KafkaTopic:  "minimarket.trades",
		},
		Log: Log{
			Level: "info",
		},
		Feed: Feed{
			Interval: 500 * time.Millisecond,
			Seed:     1,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	p := &envParser{}

	p.int64("MARKET_TOTAL_SHARES", &cfg.Market.TotalShares)
	p.decimal("MARKET_INITIAL_PRICE", &cfg.Market.InitialPrice)
	p.decimal("MARKET_PRICE_K", &cfg.Market.PriceK)
	p.decimal("MARKET_PRICE_CEILING", &cfg.Market.PriceCeiling)
	p.decimal("MARKET_PRICE_FLOOR", &cfg.Market.PriceFloor)
	p.bool("MARKET_PRICE_RATCHET", &cfg.Market.PriceRatchet)
	p.decimal("ORDER_TICK_SIZE", &cfg.Market.TickSize)

	p.decimal("MM_BID_MULTIPLIER", &cfg.MarketMaker.BidMultiplier)
	p.decimal("MM_ASK_MULTIPLIER", &cfg.MarketMaker.AskMultiplier)
	p.int64("MM_INVENTORY", &cfg.MarketMaker.Inventory)
	p.decimal("MM_CASH", &cfg.MarketMaker.Cash)

	if v := os.Getenv("SEED_PARTICIPANTS"); v != "" {
		seeds, err := ParseSeeds(v)
		if err != nil {
			p.fail("SEED_PARTICIPANTS", err)
		} else {
			cfg.Seeds = seeds
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = splitList(v)
	}

	cfg.Storage.Backend = getEnv("STORE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.PebblePath = getEnv("PEBBLE_PATH", cfg.Storage.PebblePath)
	cfg.Storage.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.JournalFile = getEnv("JOURNAL_FILE", cfg.Storage.JournalFile)

	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.Events.NATSSubject = getEnv("NATS_SUBJECT", cfg.Events.NATSSubject)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	if v := os.Getenv("FEED_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Feed.Interval = time.Duration(ms) * time.Millisecond
		} else {
			p.fail("FEED_INTERVAL_MS", err)
		}
	}
	p.int64("FEED_SEED", &cfg.Feed.Seed)

	if p.err != nil {
		return cfg, p.err
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the engines cannot run with.
func (c Config) Validate() error {
	m := c.Market
	if m.TotalShares < 0 {
		return fmt.Errorf("MARKET_TOTAL_SHARES must not be negative")
	}
	if !m.InitialPrice.IsPositive() {
		return fmt.Errorf("MARKET_INITIAL_PRICE must be positive")
	}
	if !m.PriceK.IsPositive() || !m.PriceFloor.IsPositive() {
		return fmt.Errorf("MARKET_PRICE_K and MARKET_PRICE_FLOOR must be positive")
	}
	if m.PriceCeiling.LessThan(m.PriceFloor) {
		return fmt.Errorf("MARKET_PRICE_CEILING (%s) below MARKET_PRICE_FLOOR (%s)", m.PriceCeiling, m.PriceFloor)
	}
	if !m.TickSize.IsPositive() {
		return fmt.Errorf("ORDER_TICK_SIZE must be positive")
	}

	mm := c.MarketMaker
	if !mm.BidMultiplier.IsPositive() || mm.AskMultiplier.LessThan(mm.BidMultiplier) {
		return fmt.Errorf("MM_BID_MULTIPLIER must be positive and not above MM_ASK_MULTIPLIER")
	}
	if mm.Inventory < 0 || mm.Cash.IsNegative() {
		return fmt.Errorf("MM_INVENTORY and MM_CASH must not be negative")
	}

	seen := make(map[string]bool, len(c.Seeds))
	for _, s := range c.Seeds {
		if seen[s.Name] {
			return fmt.Errorf("SEED_PARTICIPANTS: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.PebblePath == "" {
			return fmt.Errorf("PEBBLE_PATH required for pebble backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Storage.Backend)
	}
	return nil
}

// ParseSeeds parses "name:shares:cash,name:shares:cash".
func ParseSeeds(s string) ([]Seed, error) {
	var seeds []Seed
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("seed %q: want name:shares:cash", entry)
		}
		shares, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || shares < 0 {
			return nil, fmt.Errorf("seed %q: bad shares", entry)
		}
		cash, err := decimal.NewFromString(parts[2])
		if err != nil || cash.IsNegative() {
			return nil, fmt.Errorf("seed %q: bad cash", entry)
		}
		seeds = append(seeds, Seed{Name: parts[0], Shares: shares, Cash: cash})
	}
	return seeds, nil
}

type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (p *envParser) int64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) decimal(key string, dst *decimal.Decimal) {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = d
	}
}

func (p *envParser) bool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = b
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
