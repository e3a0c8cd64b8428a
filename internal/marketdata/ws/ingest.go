// Package ws streams Binance USD-M futures aggregate trades over a combined
// websocket stream and pushes normalized ticks into the pipeline.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pinhedge/internal/model"
)

const (
	mainnetWSBase = "wss://fstream.binance.com/stream"
	testnetWSBase = "wss://stream.binancefuture.com/stream"

	// Binance pings roughly every 3 minutes; a silent connection past this
	// is dead and must be redialed.
	pongWait     = 4 * time.Minute
	maxBackoff   = 30 * time.Second
	startBackoff = time.Second
)

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	Symbols []string
	Testnet bool
}

// Ingest connects to the combined aggTrade stream and pushes normalized
// ticks into tickCh. Reconnects forever with exponential backoff.
type Ingest struct {
	cfg IngestConfig
	url string

	// Optional metrics hooks
	OnReconnect func()
	OnTick      func()
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("ws ingest: no symbols")
	}
	streams := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	base := mainnetWSBase
	if cfg.Testnet {
		base = testnetWSBase
	}
	return &Ingest{
		cfg: cfg,
		url: base + "?streams=" + strings.Join(streams, "/"),
	}, nil
}

// Start streams ticks into tickCh until ctx is cancelled. Connection drops
// are retried with exponential backoff; a successful session resets it.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- *model.Tick) error {
	backoff := startBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := ing.session(ctx, tickCh)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[ws] session ended: %v", err)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		if time.Since(start) > time.Minute {
			backoff = startBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one websocket connection until it fails or ctx is cancelled.
func (ing *Ingest) session(ctx context.Context, tickCh chan<- *model.Tick) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, ing.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("ws ingest: dial: %w", err)
	}
	defer conn.Close()

	log.Printf("[ws] connected, %d streams", len(ing.cfg.Symbols))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws ingest: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		tick, err := parseTick(raw)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			continue
		}
		if ing.OnTick != nil {
			ing.OnTick()
		}

		select {
		case tickCh <- tick:
		default:
			log.Println("[ws] tickCh full, dropping tick")
		}
	}
}

// combinedMsg is the combined-stream envelope.
type combinedMsg struct {
	Stream string      `json:"stream"`
	Data   aggTradeMsg `json:"data"`
}

// aggTradeMsg is the Binance futures aggTrade payload.
type aggTradeMsg struct {
	EventType string `json:"e"`
	// EventTime must be declared: without it the decoder's case-insensitive
	// fallback binds the numeric "E" key to the "e" tag and the whole
	// message fails to unmarshal.
	EventTime int64  `json:"E"` // epoch ms
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"` // epoch ms
}

// parseTick converts a raw combined-stream message into a model.Tick.
func parseTick(raw []byte) (*model.Tick, error) {
	var msg combinedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	d := msg.Data
	if d.EventType != "aggTrade" {
		return nil, fmt.Errorf("unexpected event %q", d.EventType)
	}
	price, err := strconv.ParseFloat(d.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("bad price %q: %w", d.Price, err)
	}
	qty, _ := strconv.ParseFloat(d.Quantity, 64)

	ts := time.Now().UTC()
	if d.TradeTime > 0 {
		ts = time.Unix(0, d.TradeTime*int64(time.Millisecond)).UTC()
	}

	tick := &model.Tick{
		Symbol: d.Symbol,
		Price:  price,
		Qty:    qty,
		TS:     ts,
	}
	if !tick.Valid() {
		return nil, fmt.Errorf("invalid tick %s price=%v", d.Symbol, d.Price)
	}
	return tick, nil
}
