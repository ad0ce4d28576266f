package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/marketmaker"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
	"github.com/uhyunpark/minimarket/pkg/app/exchange"
	"github.com/uhyunpark/minimarket/pkg/metrics"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 1000
	maxBodyBytes       = 1 << 16
)

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	origins []string
}

// NewServer creates the API server and subscribes its WebSocket hub to the
// app's trade, book and market hooks. m may be nil.
func NewServer(app *exchange.App, log *zap.SugaredLogger, m *metrics.Metrics, corsOrigins []string) *Server {
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(log, m),
		log:     log,
		metrics: m,
		origins: corsOrigins,
	}

	app.OnTrade(func(t trade.Record) { s.hub.BroadcastToChannel(ChannelTrades, "trade", t) })
	app.OnBook(func(d exchange.Depth) { s.hub.BroadcastToChannel(ChannelOrderbook, "orderbook", d) })
	app.OnMarket(func(md exchange.MarketData) {
		s.hub.BroadcastToChannel(ChannelMarket, "market", marketDataResponse(md))
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market state
	api.HandleFunc("/balance_sheet", s.handleBalanceSheet).Methods("GET")
	api.HandleFunc("/market_data", s.handleMarketData).Methods("GET")
	api.HandleFunc("/trades", s.handleTrades).Methods("GET")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/orderbook", s.handleOrderbook).Methods("GET")

	// Trading
	api.HandleFunc("/ipo_sale", s.handleIPOSale).Methods("POST")
	api.HandleFunc("/market_maker_trade", s.handleMarketMakerTrade).Methods("POST")
	api.HandleFunc("/order", s.handlePlaceOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub so callers can run it alongside a custom
// listener.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Infow("api_shutting_down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	sheet := s.app.BalanceSheet()
	resp := BalanceSheetResponse{BalanceSheet: make([]BalanceEntry, 0, len(sheet))}
	for _, p := range sheet {
		resp.BalanceSheet = append(resp.BalanceSheet, BalanceEntry{
			Name:   p.Name,
			Shares: p.Shares,
			Money:  number(p.Cash),
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, marketDataResponse(s.app.MarketData()))
}

func marketDataResponse(md exchange.MarketData) MarketDataResponse {
	resp := MarketDataResponse{
		CurrentSharePrice:    number(md.Offering.Price),
		OrganizationMoney:    number(md.Offering.Proceeds),
		SharesLeft:           md.Offering.Remaining,
		TotalShares:          md.Offering.TotalShares,
		Bid:                  number(md.Quote.Bid),
		Ask:                  number(md.Quote.Ask),
		MarketMakerInventory: md.MakerInventory,
		MarketMakerCash:      number(md.MakerCash),
		TradeSeq:             md.TradeSeq,
	}
	if md.LastBookPrice.IsPositive() {
		n := number(md.LastBookPrice)
		resp.LastBookPrice = &n
	}
	return resp
}

func (s *Server) handleIPOSale(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buyer := q.Get("buyer")
	if buyer == "" {
		respondError(w, http.StatusBadRequest, "buyer is required")
		return
	}
	n, err := parseShares(q.Get("num_shares"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.app.IPOSale(r.Context(), buyer, n)
	if err != nil {
		s.respondAppError(w, err, "Buyer not found")
		return
	}

	respondJSON(w, IPOSaleResponse{
		Message:           ipoMessage(res),
		SharesRequested:   res.Requested,
		SharesBought:      res.Filled,
		TotalCost:         number(res.TotalCost),
		AveragePrice:      number(res.AveragePrice.Round(2)),
		OrganizationMoney: number(res.Proceeds),
		SharesLeft:        res.Remaining,
		CurrentSharePrice: number(res.NewPrice),
		Outcome:           string(res.Outcome),
	})
}

func ipoMessage(res issuance.Result) string {
	switch res.Outcome {
	case issuance.InsufficientFunds:
		return fmt.Sprintf("%s doesn't have enough money to buy more shares.", res.Buyer)
	case issuance.SoldOut:
		return "The offering is sold out."
	}
	return fmt.Sprintf("%s buys %d shares at an average price of %s each.",
		res.Buyer, res.Filled, res.AveragePrice.StringFixed(2))
}

func (s *Server) handleMarketMakerTrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buyer, seller := q.Get("buyer"), q.Get("seller")
	n, err := parseShares(q.Get("num_shares"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.app.MarketMakerTrade(r.Context(), buyer, seller, n)
	if err != nil {
		detail := "Buyer not found"
		if buyer == "" {
			detail = "Seller not found"
		}
		s.respondAppError(w, err, detail)
		return
	}

	resp := MarketMakerTradeResponse{
		Message:              marketMakerMessage(res),
		SharesRequested:      res.Requested,
		UnitPrice:            number(res.UnitPrice),
		TotalAmount:          number(res.Total),
		MarketMakerInventory: res.MakerInventory,
		MarketMakerCash:      number(res.MakerCash),
		CurrentSharePrice:    number(res.ReferencePrice),
		Outcome:              string(res.Outcome),
	}
	filled := res.Filled
	if res.Side == marketmaker.Buy {
		resp.SharesBought = &filled
	} else {
		resp.SharesSold = &filled
	}
	respondJSON(w, resp)
}

func marketMakerMessage(res marketmaker.Result) string {
	switch res.Outcome {
	case marketmaker.InsufficientFunds:
		return fmt.Sprintf("%s doesn't have enough money to buy more shares.", res.Participant)
	case marketmaker.InsufficientShares:
		return fmt.Sprintf("%s doesn't have enough shares to sell.", res.Participant)
	case marketmaker.MakerInventoryExhausted:
		return "The market maker has run out of shares."
	case marketmaker.MakerCashExhausted:
		return "The market maker has run out of cash."
	}
	if res.Side == marketmaker.Buy {
		return fmt.Sprintf("%s buys %d shares from the market maker at %s each.",
			res.Participant, res.Filled, res.UnitPrice.StringFixed(2))
	}
	return fmt.Sprintf("%s sells %d shares to the market maker at %s each.",
		res.Participant, res.Filled, res.UnitPrice.StringFixed(2))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.app.PlaceOrder(r.Context(), req.Type, string(req.UserID), req.Price, req.Quantity)
	if err != nil {
		s.respondAppError(w, err, "")
		return
	}

	resp := PlaceOrderResponse{
		Message:   orderMessage(res.Order.Side),
		Matches:   make([]MatchInfo, 0, len(res.Trades)),
		OrderID:   res.Order.ID,
		Remaining: res.Order.Remaining,
	}
	var summary []string
	for _, t := range res.Trades {
		resp.Matches = append(resp.Matches, MatchInfo{
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Buyer:       t.Buyer,
			Seller:      t.Seller,
			Price:       number(t.Price),
			Quantity:    t.Quantity,
		})
		summary = append(summary, fmt.Sprintf("buy #%d with sell #%d, %d at %s",
			t.BuyOrderID, t.SellOrderID, t.Quantity, t.Price.StringFixed(2)))
	}
	if len(summary) > 0 {
		resp.MatchResult = "Order matched: " + strings.Join(summary, "; ")
	}
	respondJSON(w, resp)
}

func orderMessage(side orderbook.Side) string {
	if side == orderbook.Sell {
		return "Sell order placed."
	}
	return "Buy order placed."
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	buys, sells := s.app.Orders()
	respondJSON(w, OrdersResponse{BuyOrders: orderTuples(buys), SellOrders: orderTuples(sells)})
}

func orderTuples(orders []exchange.OrderView) [][]any {
	out := make([][]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, []any{o.ID, userValue(o.Owner), number(o.Price), o.Remaining})
	}
	return out
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.app.Depth())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradesLimit)
	}

	trades, err := s.app.RecentTrades(r.Context(), limit)
	if err != nil {
		s.respondAppError(w, err, "")
		return
	}
	if trades == nil {
		trades = []trade.Record{}
	}
	respondJSON(w, TradesResponse{Trades: trades})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hash := s.app.StateHash()
	respondJSON(w, HealthResponse{
		Status:    "ok",
		StateHash: hex.EncodeToString(hash[:]),
		TradeSeq:  s.app.MarketData().TradeSeq,
	})
}

// ==============================
// Helper Functions
// ==============================

func parseShares(v string, def int64) (int64, error) {
	if v == "" {
		if def > 0 {
			return def, nil
		}
		return 0, errors.New("num_shares is required")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("num_shares must be a non-negative integer")
	}
	return n, nil
}

// respondAppError maps engine errors to status codes. notFound replaces
// the message for unknown participants.
func (s *Server) respondAppError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		detail := err.Error()
		if notFound != "" {
			detail = notFound
		}
		respondError(w, http.StatusNotFound, detail)
	case errors.Is(err, core.ErrInvalidOrderType):
		respondError(w, http.StatusBadRequest, "Invalid order type")
	case errors.Is(err, core.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrPersistence):
		respondError(w, http.StatusServiceUnavailable, "storage unavailable, retry the request")
	default:
		s.log.Errorw("api_internal_error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}
