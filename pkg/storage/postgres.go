package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Schema keeps one row per participant, a single market maker and offering
// row, resting orders split by side, and the append-only transactions log.
// Money is NUMERIC and crosses the wire as text so no precision is lost.
const schema = `
CREATE TABLE IF NOT EXISTS people_to_shares (
	ordinal BIGSERIAL,
	name    TEXT PRIMARY KEY,
	shares  BIGINT  NOT NULL CHECK (shares >= 0),
	money   NUMERIC NOT NULL CHECK (money >= 0)
);

CREATE TABLE IF NOT EXISTS market_maker (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	inventory BIGINT  NOT NULL CHECK (inventory >= 0),
	cash      NUMERIC NOT NULL CHECK (cash >= 0)
);

CREATE TABLE IF NOT EXISTS offering (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	total_shares        BIGINT  NOT NULL,
	shares_left         BIGINT  NOT NULL,
	organization_money  NUMERIC NOT NULL,
	current_share_price NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS buy_orders (
	id        BIGINT PRIMARY KEY,
	user_id   TEXT   NOT NULL,
	price     BIGINT NOT NULL,
	quantity  BIGINT NOT NULL,
	remaining BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sell_orders (LIKE buy_orders INCLUDING ALL);

CREATE TABLE IF NOT EXISTS transactions (
	seq             BIGINT PRIMARY KEY,
	id              UUID   NOT NULL,
	kind            TEXT   NOT NULL,
	buyer           TEXT   NOT NULL,
	seller          TEXT   NOT NULL,
	buy_order_id    BIGINT NOT NULL DEFAULT 0,
	sell_order_id   BIGINT NOT NULL DEFAULT 0,
	num_shares      BIGINT NOT NULL,
	price_per_share NUMERIC NOT NULL,
	total_amount    NUMERIC NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS market_meta (
	key   TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);
`

const (
	metaNextOrderID   = "next_order_id"
	metaLastTradeSeq  = "last_trade_seq"
	metaLastBookPrice = "last_book_price"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := s.pool.Query(ctx, `SELECT name, shares, money::text FROM people_to_shares ORDER BY ordinal`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load participants: %w", err)
	}
	snap.Participants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Participant, error) {
		var (
			p    ledger.Participant
			cash string
		)
		if err := row.Scan(&p.Name, &p.Shares, &cash); err != nil {
			return p, err
		}
		d, err := decimal.NewFromString(cash)
		p.Cash = d
		return p, err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load participants: %w", err)
	}

	var (
		maker ledger.MarketMaker
		cash  string
	)
	err = s.pool.QueryRow(ctx, `SELECT inventory, cash::text FROM market_maker WHERE id = 1`).Scan(&maker.Inventory, &cash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Snapshot{}, fmt.Errorf("load market maker: %w", err)
	default:
		if maker.Cash, err = decimal.NewFromString(cash); err != nil {
			return Snapshot{}, fmt.Errorf("load market maker: %w", err)
		}
		snap.Maker = &maker
	}

	var (
		off             issuance.Offering
		proceeds, price string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT total_shares, shares_left, organization_money::text, current_share_price::text
		FROM offering WHERE id = 1`).Scan(&off.TotalShares, &off.Remaining, &proceeds, &price)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Snapshot{}, fmt.Errorf("load offering: %w", err)
	default:
		if off.Proceeds, err = decimal.NewFromString(proceeds); err != nil {
			return Snapshot{}, fmt.Errorf("load offering: %w", err)
		}
		if off.Price, err = decimal.NewFromString(price); err != nil {
			return Snapshot{}, fmt.Errorf("load offering: %w", err)
		}
		snap.Offering = &off
	}

	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, user_id, price, quantity, remaining FROM %s ORDER BY id`, orderTable(side)))
		if err != nil {
			return Snapshot{}, fmt.Errorf("load %s orders: %w", side, err)
		}
		orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orderbook.Order, error) {
			var id int64
			o := orderbook.Order{Side: side}
			err := row.Scan(&id, &o.Owner, &o.Price, &o.Quantity, &o.Remaining)
			o.ID = uint64(id)
			return o, err
		})
		if err != nil {
			return Snapshot{}, fmt.Errorf("load %s orders: %w", side, err)
		}
		snap.Orders = append(snap.Orders, orders...)
	}

	rows, err = s.pool.Query(ctx, `SELECT key, value FROM market_meta`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return Snapshot{}, fmt.Errorf("load meta: %w", err)
		}
		switch key {
		case metaNextOrderID:
			snap.NextOrderID = uint64(value)
		case metaLastTradeSeq:
			snap.LastTradeSeq = uint64(value)
		case metaLastBookPrice:
			snap.LastBookPrice = value
		}
	}
	return snap, rows.Err()
}

// Commit queues every write in one pgx.Batch inside a transaction.
func (s *PostgresStore) Commit(ctx context.Context, cs Changeset) error {
	batch := &pgx.Batch{}

	for _, p := range cs.Registered {
		batch.Queue(`INSERT INTO people_to_shares (name, shares, money) VALUES ($1, $2, $3::numeric)`,
			p.Name, p.Shares, p.Cash.String())
	}
	for _, p := range cs.Participants {
		batch.Queue(`UPDATE people_to_shares SET shares = $2, money = $3::numeric WHERE name = $1`,
			p.Name, p.Shares, p.Cash.String())
	}
	if m := cs.Maker; m != nil {
		batch.Queue(`
			INSERT INTO market_maker (id, inventory, cash) VALUES (1, $1, $2::numeric)
			ON CONFLICT (id) DO UPDATE SET inventory = EXCLUDED.inventory, cash = EXCLUDED.cash`,
			m.Inventory, m.Cash.String())
	}
	if o := cs.Offering; o != nil {
		batch.Queue(`
			INSERT INTO offering (id, total_shares, shares_left, organization_money, current_share_price)
			VALUES (1, $1, $2, $3::numeric, $4::numeric)
			ON CONFLICT (id) DO UPDATE SET
				total_shares = EXCLUDED.total_shares,
				shares_left = EXCLUDED.shares_left,
				organization_money = EXCLUDED.organization_money,
				current_share_price = EXCLUDED.current_share_price`,
			o.TotalShares, o.Remaining, o.Proceeds.String(), o.Price.String())
	}
	for _, o := range cs.OrdersUpsert {
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, user_id, price, quantity, remaining) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET remaining = EXCLUDED.remaining`, orderTable(o.Side)),
			int64(o.ID), o.Owner, o.Price, o.Quantity, o.Remaining)
	}
	for _, id := range cs.OrdersRemove {
		batch.Queue(`DELETE FROM buy_orders WHERE id = $1`, int64(id))
		batch.Queue(`DELETE FROM sell_orders WHERE id = $1`, int64(id))
	}
	for _, t := range cs.Trades {
		batch.Queue(`
			INSERT INTO transactions (seq, id, kind, buyer, seller, buy_order_id, sell_order_id,
				num_shares, price_per_share, total_amount, created_at)
			VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11)`,
			int64(t.Seq), t.ID.String(), string(t.Kind), t.Buyer, t.Seller,
			int64(t.BuyOrderID), int64(t.SellOrderID), t.Quantity,
			t.Price.String(), t.Total.String(), t.Timestamp)
	}
	queueMeta := func(key string, value int64) {
		batch.Queue(`
			INSERT INTO market_meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	}
	if cs.NextOrderID != 0 {
		queueMeta(metaNextOrderID, int64(cs.NextOrderID))
	}
	if cs.LastTradeSeq != 0 {
		queueMeta(metaLastTradeSeq, int64(cs.LastTradeSeq))
	}
	if cs.LastBookPrice != 0 {
		queueMeta(metaLastBookPrice, cs.LastBookPrice)
	}

	if batch.Len() == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
		}
		return results.Close()
	})
}

func (s *PostgresStore) RecentTrades(ctx context.Context, limit int) ([]trade.Record, error) {
	if limit <= 0 {
		return []trade.Record{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id::text, kind, buyer, seller, buy_order_id, sell_order_id,
			num_shares, price_per_share::text, total_amount::text, created_at
		FROM transactions ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (trade.Record, error) {
		var (
			t                  trade.Record
			seq, buyID, sellID int64
			id, kind           string
			price, total       string
		)
		if err := row.Scan(&seq, &id, &kind, &t.Buyer, &t.Seller, &buyID, &sellID,
			&t.Quantity, &price, &total, &t.Timestamp); err != nil {
			return t, err
		}
		var err error
		if t.ID, err = uuid.Parse(id); err != nil {
			return t, err
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return t, err
		}
		if t.Total, err = decimal.NewFromString(total); err != nil {
			return t, err
		}
		t.Seq, t.Kind = uint64(seq), trade.Kind(kind)
		t.BuyOrderID, t.SellOrderID = uint64(buyID), uint64(sellID)
		t.Timestamp = t.Timestamp.UTC()
		return t, nil
	})
}

func orderTable(side orderbook.Side) string {
	if side == orderbook.Buy {
		return "buy_orders"
	}
	return "sell_orders"
}

var _ Store = (*PostgresStore)(nil)
