package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinhedge/internal/model"
)

const (
	fapiBaseURL    = "https://fapi.binance.com"
	fapiTestnetURL = "https://testnet.binancefuture.com"

	recvWindowMs = 5000
)

// BinanceConfig configures the live futures gateway.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Timeout   time.Duration // per-request, default 7s
}

// Binance is a Gateway backed by the Binance USDT-M futures REST API.
type Binance struct {
	cfg     BinanceConfig
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	qtySteps map[string]float64 // symbol -> LOT_SIZE step, lazily loaded
	levSet   map[string]int     // symbols with leverage already configured
}

// APIError is a structured error body returned by Binance.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d code=%d %s", e.Status, e.Code, e.Msg)
}

// NewBinance creates the live gateway. It does not touch the network; the
// first request validates credentials.
func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 7 * time.Second
	}
	base := fapiBaseURL
	if cfg.Testnet {
		base = fapiTestnetURL
	}
	return &Binance{
		cfg:      cfg,
		baseURL:  base,
		http:     &http.Client{Timeout: cfg.Timeout},
		qtySteps: make(map[string]float64),
		levSet:   make(map[string]int),
	}
}

// PlaceMarketOrder submits a market order on the dual-side position API.
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol, side string, positionSide model.Side, qty float64) (*model.Order, error) {
	clientID := "ph-" + uuid.NewString()[:20]
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("positionSide", string(positionSide))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(qty))
	params.Set("newClientOrderId", clientID)

	var resp orderResponse
	if err := b.signed(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
		}
		return nil, err
	}
	return resp.toOrder(clientID), nil
}

// GetOrder fetches the current state of an order by exchange ID.
func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (*model.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := b.signed(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(""), nil
}

// CancelAllOrders cancels every open order for the symbol.
func (b *Binance) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return b.signed(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil)
}

// GetTickerPrice returns the last traded price. Unsigned endpoint.
func (b *Binance) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Price string `json:"price"`
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	if err := b.public(ctx, "/fapi/v1/ticker/price", q, &resp); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse ticker price %q: %w", resp.Price, err)
	}
	return p, nil
}

// SetLeverage configures leverage for a symbol, caching to avoid repeat
// calls per order.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	b.mu.Lock()
	if b.levSet[symbol] == leverage {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	if err := b.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil); err != nil {
		return err
	}

	b.mu.Lock()
	b.levSet[symbol] = leverage
	b.mu.Unlock()
	return nil
}

// RoundQuantity rounds qty down to the symbol's LOT_SIZE step. Falls back
// to 3 decimals when exchange info is unavailable.
func (b *Binance) RoundQuantity(symbol string, qty float64) float64 {
	step := b.quantityStep(symbol)
	if step <= 0 {
		step = 0.001
	}
	steps := int64(qty / step)
	return float64(steps) * step
}

func (b *Binance) quantityStep(symbol string) float64 {
	b.mu.Lock()
	step, ok := b.qtySteps[symbol]
	b.mu.Unlock()
	if ok {
		return step
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.public(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		log.Printf("[binance] exchangeInfo fetch failed: %v", err)
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range resp.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil {
					b.qtySteps[s.Symbol] = v
				}
			}
		}
	}
	return b.qtySteps[symbol]
}

// signed performs an HMAC-SHA256 signed request.
func (b *Binance) signed(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	return b.do(req, out)
}

// public performs an unsigned request.
func (b *Binance) public(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := b.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *Binance) do(req *http.Request, out any) error {
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// orderResponse is the subset of the order payload the core needs.
type orderResponse struct {
	OrderID      int64  `json:"orderId"`
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	Side         string `json:"side"`
	PositionSide string `json:"positionSide"`
	OrigQty      string `json:"origQty"`
	ExecutedQty  string `json:"executedQty"`
	AvgPrice     string `json:"avgPrice"`
	ClientID     string `json:"clientOrderId"`
	UpdateTime   int64  `json:"updateTime"`
}

func (r *orderResponse) toOrder(clientID string) *model.Order {
	if clientID == "" {
		clientID = r.ClientID
	}
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	exec, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(r.AvgPrice, 64)
	return &model.Order{
		OrderID:      strconv.FormatInt(r.OrderID, 10),
		ClientID:     clientID,
		Symbol:       r.Symbol,
		Side:         r.Side,
		PositionSide: model.Side(r.PositionSide),
		Qty:          qty,
		ExecutedQty:  exec,
		AvgPrice:     avg,
		Status:       model.OrderStatus(strings.ToUpper(r.Status)),
		CreatedAt:    time.UnixMilli(r.UpdateTime).UTC(),
	}
}

func formatQty(q float64) string {
	s := strconv.FormatFloat(q, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
