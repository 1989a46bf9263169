package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

const defaultBridgeURL = "http://127.0.0.1:8787"

// BridgeClient talks to a local REST gateway that fronts the broker terminal.
//
//	GET  /snapshot?symbols=a,b        latest prices
//	GET  /history?symbol=&count=      daily bars
//	GET  /position?symbol=            holding
//	GET  /orders[?symbol=&status=]    orders placed today
//	GET  /orders/{id}                 single order
//	POST /orders                      limit or market order
//	POST /orders/{id}/cancel          cancel
//	GET  /trades                      today's executions
type BridgeClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  logrus.FieldLogger
}

// Ensure BridgeClient implements Broker at compile time.
var _ Broker = (*BridgeClient)(nil)

// NewBridgeClient creates a bridge client. An empty baseURL uses the local default.
func NewBridgeClient(baseURL, apiKey string, timeout time.Duration, logger logrus.FieldLogger) *BridgeClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBridgeURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BridgeClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (b *BridgeClient) WithHTTPClient(c *http.Client) *BridgeClient {
	if c != nil {
		b.client = c
	}
	return b
}

// ============ Wire formats ============

// wireOrder mirrors the terminal's order record. entrust_bs is "1" for buy and "2" for sell.
type wireOrder struct {
	EntrustNo      string  `json:"entrust_no"`
	StockCode      string  `json:"stock_code"`
	EntrustBS      string  `json:"entrust_bs"`
	EntrustAmount  int     `json:"entrust_amount"`
	EntrustPrice   float64 `json:"entrust_price"`
	BusinessAmount int     `json:"business_amount"`
	Status         string  `json:"status"`
	EntrustTime    string  `json:"entrust_time"`
}

type wireTrade struct {
	EntrustNo      string  `json:"entrust_no"`
	StockCode      string  `json:"stock_code"`
	EntrustBS      string  `json:"entrust_bs"`
	BusinessAmount int     `json:"business_amount"`
	BusinessPrice  float64 `json:"business_price"`
	Status         string  `json:"status"`
	BusinessTime   string  `json:"business_time"`
}

type wirePosition struct {
	StockCode    string  `json:"stock_code"`
	Amount       int     `json:"amount"`
	EnableAmount int     `json:"enable_amount"`
	CostBasis    float64 `json:"cost_basis"`
}

type wireBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type wireSnapshot struct {
	LastPx float64 `json:"last_px"`
	Time   string  `json:"time"`
}

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	EntrustBS     string  `json:"entrust_bs"`
	Amount        int     `json:"amount"`
	Type          string  `json:"type"` // limit | market
	Price         float64 `json:"price,omitempty"`
	ProtectPrice  float64 `json:"protect_price,omitempty"`
}

func parseSide(bs string) (models.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(bs)) {
	case "1", "B", "BUY":
		return models.SideBuy, nil
	case "2", "S", "SELL":
		return models.SideSell, nil
	}
	return "", fmt.Errorf("unknown entrust_bs %q", bs)
}

func sideCode(s models.Side) string {
	if s == models.SideSell {
		return "2"
	}
	return "1"
}

// parseTime accepts RFC3339 or "2006-01-02 15:04:05"; unparseable values yield the zero time.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return time.Time{}
}

func (w wireOrder) toModel() (models.Order, error) {
	side, err := parseSide(w.EntrustBS)
	if err != nil {
		return models.Order{}, err
	}
	status, err := models.ParseOrderStatus(w.Status)
	if err != nil {
		return models.Order{}, err
	}
	qty := w.EntrustAmount
	if qty < 0 {
		qty = -qty
	}
	return models.Order{
		CreatedAt: parseTime(w.EntrustTime),
		ID:        w.EntrustNo,
		Symbol:    util.ToStandardSymbol(w.StockCode),
		Side:      side,
		Status:    status,
		Price:     w.EntrustPrice,
		Quantity:  qty,
		Filled:    w.BusinessAmount,
	}, nil
}

func (w wireTrade) toModel() (models.Trade, error) {
	side, err := parseSide(w.EntrustBS)
	if err != nil {
		return models.Trade{}, err
	}
	status, err := models.ParseOrderStatus(w.Status)
	if err != nil {
		return models.Trade{}, err
	}
	return models.Trade{
		Time:     parseTime(w.BusinessTime),
		OrderID:  w.EntrustNo,
		Symbol:   util.ToStandardSymbol(w.StockCode),
		Side:     side,
		Status:   status,
		Price:    w.BusinessPrice,
		Quantity: w.BusinessAmount,
	}, nil
}

// ============ Broker methods ============

// GetSnapshot returns the latest price for each symbol the bridge knows.
func (b *BridgeClient) GetSnapshot(ctx context.Context, symbols []string) (map[string]models.Snapshot, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	var resp map[string]wireSnapshot
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/snapshot", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	out := make(map[string]models.Snapshot, len(resp))
	for sym, s := range resp {
		std := util.ToStandardSymbol(sym)
		out[std] = models.Snapshot{Time: parseTime(s.Time), Symbol: std, Price: s.LastPx}
	}
	return out, nil
}

// GetDailyBars returns up to count daily bars, oldest first.
func (b *BridgeClient) GetDailyBars(ctx context.Context, symbol string, count int) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("count", strconv.Itoa(count))
	params.Set("frequency", "1d")
	var resp struct {
		Bars []wireBar `json:"bars"`
	}
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/history", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("get history %s: %w", symbol, err)
	}
	bars := make([]models.Bar, 0, len(resp.Bars))
	for _, w := range resp.Bars {
		bars = append(bars, models.Bar{
			Time: parseTime(w.Date), Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume,
		})
	}
	return bars, nil
}

// GetPosition returns the holding for symbol; a symbol not held yields a zero position.
func (b *BridgeClient) GetPosition(ctx context.Context, symbol string) (models.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp wirePosition
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/position", params, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return models.Position{Symbol: symbol}, nil
		}
		return models.Position{}, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return models.Position{
		Symbol:    symbol,
		Amount:    resp.Amount,
		Sellable:  resp.EnableAmount,
		CostBasis: resp.CostBasis,
	}, nil
}

func (b *BridgeClient) listOrders(ctx context.Context, params url.Values) ([]models.Order, error) {
	var resp struct {
		Orders []wireOrder `json:"orders"`
	}
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/orders", params, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		o, err := w.toModel()
		if err != nil {
			b.logger.WithError(err).WithField("entrust_no", w.EntrustNo).Warn("skipping malformed order")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// GetAllOrders returns every order placed today.
func (b *BridgeClient) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := b.listOrders(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return orders, nil
}

// GetOpenOrders returns symbol's orders still resting on the book.
func (b *BridgeClient) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("status", "open")
	orders, err := b.listOrders(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("get open orders %s: %w", symbol, err)
	}
	open := orders[:0]
	for _, o := range orders {
		if o.Status == models.StatusOpen || o.Status == models.StatusPartial {
			open = append(open, o)
		}
	}
	return open, nil
}

// GetOrder returns a single order.
func (b *BridgeClient) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var resp wireOrder
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return models.Order{}, fmt.Errorf("get order %s: %w", id, ErrOrderNotFound)
		}
		return models.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return resp.toModel()
}

func (b *BridgeClient) placeOrder(ctx context.Context, req orderRequest) (models.Order, error) {
	req.ClientOrderID = uuid.New().String()
	var resp wireOrder
	if err := b.makeRequestCtx(ctx, http.MethodPost, "/orders", nil, req, &resp); err != nil {
		return models.Order{}, err
	}
	if resp.EntrustNo == "" {
		return models.Order{}, fmt.Errorf("%w: bridge returned no entrust_no", ErrOrderRejected)
	}
	o, err := resp.toModel()
	if err != nil {
		return models.Order{}, err
	}
	if o.Status == models.StatusRejected {
		return o, fmt.Errorf("%w: %s", ErrOrderRejected, o.ID)
	}
	return o, nil
}

// PlaceLimitOrder places a day limit order.
func (b *BridgeClient) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side,
	qty int, price float64) (models.Order, error) {
	if qty <= 0 || price <= 0 {
		return models.Order{}, fmt.Errorf("%w: qty and price must be positive", ErrOrderRejected)
	}
	o, err := b.placeOrder(ctx, orderRequest{
		Symbol:    symbol,
		EntrustBS: sideCode(side),
		Amount:    qty,
		Type:      "limit",
		Price:     util.RoundPrice(price),
	})
	if err != nil {
		return o, fmt.Errorf("place limit %s %s %d@%.3f: %w", side, symbol, qty, price, err)
	}
	return o, nil
}

// PlaceMarketOrder places a market order, optionally bounded by a protect price.
func (b *BridgeClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side,
	qty int, protect float64) (models.Order, error) {
	if qty <= 0 {
		return models.Order{}, fmt.Errorf("%w: qty must be positive", ErrOrderRejected)
	}
	req := orderRequest{
		Symbol:    symbol,
		EntrustBS: sideCode(side),
		Amount:    qty,
		Type:      "market",
	}
	if protect > 0 {
		req.ProtectPrice = util.RoundPrice(protect)
	}
	o, err := b.placeOrder(ctx, req)
	if err != nil {
		return o, fmt.Errorf("place market %s %s %d (protect %.3f): %w", side, symbol, qty, protect, err)
	}
	return o, nil
}

// CancelOrder requests cancellation of an order.
func (b *BridgeClient) CancelOrder(ctx context.Context, id, symbol string) error {
	body := map[string]string{"symbol": symbol}
	if err := b.makeRequestCtx(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/cancel", nil, body, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	return nil
}

// GetTrades returns today's executions.
func (b *BridgeClient) GetTrades(ctx context.Context) ([]models.Trade, error) {
	var resp struct {
		Trades []wireTrade `json:"trades"`
	}
	if err := b.makeRequestCtx(ctx, http.MethodGet, "/trades", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	out := make([]models.Trade, 0, len(resp.Trades))
	for _, w := range resp.Trades {
		t, err := w.toModel()
		if err != nil {
			b.logger.WithError(err).WithField("entrust_no", w.EntrustNo).Warn("skipping malformed trade")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ============ HTTP ============

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation.
// A nil response discards the body.
func (b *BridgeClient) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, payload interface{}, response interface{}) error {
	u := b.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "vagrid/1.0 (+bridge)")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.WithError(err).Debug("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, strings.TrimSpace(string(raw)))}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}
