package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/params"
	"github.com/uhyunpark/minimarket/pkg/app/exchange"
	"github.com/uhyunpark/minimarket/pkg/metrics"
	"github.com/uhyunpark/minimarket/pkg/storage"
)

type brokenStore struct{ *storage.MemStore }

func (brokenStore) Commit(context.Context, storage.Changeset) error { return errors.New("connection reset") }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	app, err := exchange.New(context.Background(), params.Default(), storage.NewMemStore())
	require.NoError(t, err)
	return NewServer(app, zap.NewNop().Sugar(), metrics.New(), []string{"*"})
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func order(typ string, user any, price float64, qty int) map[string]any {
	return map[string]any{"type": typ, "user_id": user, "price": price, "quantity": qty}
}

func getOrders(t *testing.T, s *Server) (buys, sells []any) {
	t.Helper()
	rec := do(t, s, "GET", "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	return body["buy_orders"].([]any), body["sell_orders"].([]any)
}

func TestPlaceBuyOrder(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/order", order("buy", 1, 100, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Buy order placed.", body["message"])
	assert.NotContains(t, body, "match_result")

	buys, sells := getOrders(t, s)
	require.Len(t, buys, 1)
	assert.Empty(t, sells)
	row := buys[0].([]any)
	assert.Equal(t, 1.0, row[1])
	assert.Equal(t, 100.0, row[2])
	assert.Equal(t, 10.0, row[3])
}

func TestPlaceSellOrder(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/order", order("sell", 2, 95, 5))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sell order placed.", decode(t, rec)["message"])

	_, sells := getOrders(t, s)
	require.Len(t, sells, 1)
	row := sells[0].([]any)
	assert.Equal(t, 2.0, row[1])
	assert.Equal(t, 95.0, row[2])
	assert.Equal(t, 5.0, row[3])
}

func TestOrderMatching(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/v1/order", order("buy", 1, 100, 10))
	rec := do(t, s, "POST", "/api/v1/order", order("sell", 2, 100, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["match_result"], "Order matched")
	assert.Len(t, body["matches"], 1)

	buys, sells := getOrders(t, s)
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}

func TestPartialMatching(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/v1/order", order("buy", 1, 100, 10))
	rec := do(t, s, "POST", "/api/v1/order", order("sell", 2, 100, 5))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["match_result"], "Order matched")

	buys, sells := getOrders(t, s)
	require.Len(t, buys, 1)
	assert.Empty(t, sells)
	assert.Equal(t, 5.0, buys[0].([]any)[3])
}

func TestInvalidOrderType(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/order", order("invalid_type", 3, 50, 10))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid order type", decode(t, rec)["detail"])
}

func TestViewEmptyOrders(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"buy_orders":[],"sell_orders":[]}`, rec.Body.String())
}

func TestMultipleOrders(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/v1/order", order("buy", 1, 100, 10))
	do(t, s, "POST", "/api/v1/order", order("buy", 2, 95, 5))
	do(t, s, "POST", "/api/v1/order", order("sell", 3, 90, 7))

	// the sell fills 7 against the best bid and nothing rests
	buys, sells := getOrders(t, s)
	require.Len(t, buys, 2)
	assert.Empty(t, sells)
	assert.Equal(t, 100.0, buys[0].([]any)[2])
	assert.Equal(t, 3.0, buys[0].([]any)[3])

	// a sell above every bid rests
	s = newTestServer(t)
	do(t, s, "POST", "/api/v1/order", order("buy", 1, 100, 10))
	do(t, s, "POST", "/api/v1/order", order("buy", 2, 95, 5))
	do(t, s, "POST", "/api/v1/order", order("sell", 3, 101, 7))
	buys, sells = getOrders(t, s)
	assert.Len(t, buys, 2)
	require.Len(t, sells, 1)
	assert.Equal(t, 101.0, sells[0].([]any)[2])
}

func TestStringUserIDsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/order", order("buy", "alice", 10.25, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	buys, _ := getOrders(t, s)
	require.Len(t, buys, 1)
	assert.Equal(t, "alice", buys[0].([]any)[1])
}

func TestOrderValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"off tick price", order("buy", 1, 10.001, 1)},
		{"zero quantity", order("buy", 1, 10, 0)},
		{"missing user", map[string]any{"type": "buy", "price": 10, "quantity": 1}},
		{"bad user id", map[string]any{"type": "buy", "user_id": 1.5, "price": 10, "quantity": 1}},
		{"not json", "nonsense"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/v1/order", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestBalanceSheetAndMarketData(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/balance_sheet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sheet := decode(t, rec)["balance_sheet"].([]any)
	require.Len(t, sheet, 3)
	first := sheet[0].(map[string]any)
	assert.Equal(t, "Olin", first["name"])
	assert.Equal(t, 0.0, first["shares"])
	assert.Equal(t, 1000.0, first["money"])

	rec = do(t, s, "GET", "/api/v1/market_data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	md := decode(t, rec)
	assert.Equal(t, 10.0, md["current_share_price"])
	assert.Equal(t, 100.0, md["shares_left"])
	assert.Equal(t, 9.5, md["bid"])
	assert.Equal(t, 10.5, md["ask"])
	assert.Equal(t, 50.0, md["market_maker_inventory"])
	assert.NotContains(t, md, "last_book_price")
}

func TestIPOSale(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/ipo_sale?buyer=Olin&num_shares=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Olin buys 30 shares at an average price of 10.00 each.", body["message"])
	assert.Equal(t, 30.0, body["shares_bought"])
	assert.Equal(t, 300.0, body["organization_money"])
	assert.Equal(t, 70.0, body["shares_left"])
	assert.Equal(t, "filled", body["outcome"])

	rec = do(t, s, "POST", "/api/v1/ipo_sale?buyer=Nobody&num_shares=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Buyer not found", decode(t, rec)["detail"])

	rec = do(t, s, "POST", "/api/v1/ipo_sale?buyer=Olin&num_shares=-2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/v1/ipo_sale?buyer=Olin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketMakerTrade(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/market_maker_trade?buyer=Olin&num_shares=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Olin buys 5 shares from the market maker at 10.50 each.", body["message"])
	assert.Equal(t, 5.0, body["shares_bought"])
	assert.NotContains(t, body, "shares_sold")
	assert.Equal(t, 45.0, body["market_maker_inventory"])
	assert.Equal(t, 1052.5, body["market_maker_cash"])

	rec = do(t, s, "POST", "/api/v1/market_maker_trade?seller=Olin&num_shares=9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, 5.0, body["shares_sold"], "only the shares held are sold")
	assert.Equal(t, "insufficient_shares", body["outcome"])

	tests := []struct {
		name   string
		query  string
		status int
		detail string
	}{
		{"both sides", "buyer=Olin&seller=Mig", http.StatusBadRequest, ""},
		{"neither side", "num_shares=1", http.StatusBadRequest, ""},
		{"unknown buyer", "buyer=Ghost", http.StatusNotFound, "Buyer not found"},
		{"unknown seller", "seller=Ghost", http.StatusNotFound, "Seller not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/v1/market_maker_trade?"+tt.query, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, decode(t, rec)["detail"])
			}
		})
	}
}

func TestTradesEndpoint(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/api/v1/ipo_sale?buyer=Mig&num_shares=3", nil)
	rec := do(t, s, "GET", "/api/v1/trades?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode(t, rec)["trades"].([]any)
	require.Len(t, trades, 2)
	newest := trades[0].(map[string]any)
	assert.Equal(t, 3.0, newest["seq"])
	assert.Equal(t, "ipo", newest["kind"])
	assert.Equal(t, "@issuer", newest["seller"])

	rec = do(t, s, "GET", "/api/v1/trades?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersistenceFailureIsRetryable(t *testing.T) {
	cfg := params.Default()
	mem := storage.NewMemStore()
	_, err := exchange.New(context.Background(), cfg, mem)
	require.NoError(t, err)

	app, err := exchange.New(context.Background(), cfg, brokenStore{mem})
	require.NoError(t, err)
	s := NewServer(app, zap.NewNop().Sugar(), nil, nil)

	rec := do(t, s, "POST", "/api/v1/ipo_sale?buyer=Olin&num_shares=1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, s, "GET", "/api/v1/balance_sheet", nil)
	first := decode(t, rec)["balance_sheet"].([]any)[0].(map[string]any)
	assert.Equal(t, 0.0, first["shares"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["state_hash"], 64)

	do(t, s, "POST", "/api/v1/ipo_sale?buyer=Olin&num_shares=1", nil)
	rec = do(t, s, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "market_trades_total")
}

func TestWebSocketStreamsTrades(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelTrades, "bogus"}}))
	var ack WSMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, []string{ChannelTrades}, ack.Channels)

	resp, err := http.Post(ts.URL+"/api/v1/market_maker_trade?buyer=Albert&num_shares=2", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trade", msg.Type)
	assert.Equal(t, "market_maker", msg.Data["kind"])
	assert.Equal(t, "Albert", msg.Data["buyer"])
	assert.Equal(t, 1, s.Hub().ClientCount())
}
