// Command hedgebot runs the live pipeline: Binance aggTrade stream, candle
// aggregation, spike detection and two-leg hedge execution, with metrics,
// status API, Redis event stream and SQLite trade journal.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pinhedge/config"
	"pinhedge/internal/api"
	"pinhedge/internal/engine"
	"pinhedge/internal/exchange"
	"pinhedge/internal/hedge"
	"pinhedge/internal/journal"
	"pinhedge/internal/logger"
	"pinhedge/internal/marketdata/bus"
	"pinhedge/internal/marketdata/ws"
	"pinhedge/internal/metrics"
	"pinhedge/internal/model"
	"pinhedge/internal/notification"
	"pinhedge/internal/recorder"
	"pinhedge/internal/sigrec"
	redisstore "pinhedge/internal/store/redis"
)

const (
	tickBufSize    = 4096
	eventBufSize   = 1024
	shutdownWindow = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	recordPath := flag.String("record", "", "append raw ticks to this NDJSON file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slogger := logger.Init("hedgebot", slog.LevelInfo)
	slogger.Info("starting", "symbols", cfg.Symbols, "paper", cfg.Exchange.Paper)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(cfg.Symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// Trade journal. Fatal: completed trades must not be lost silently.
	jnl, err := journal.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	defer jnl.Close()
	health.SetSQLiteOK(true)

	// Redis event stream. The bot degrades to log-only events when Redis is
	// unreachable at startup; the circuit breaker covers outages after it.
	var (
		emitters  hedge.MultiEmitter
		eventCh   *hedge.ChanEmitter
		publisher *redisstore.Publisher
	)
	publisher, err = redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		slogger.Warn("redis unavailable, events will not be published", "err", err)
	} else {
		health.SetRedisConnected(true)
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
		buffered := redisstore.NewBufferedPublisher(ctx, publisher, cb, 0)
		eventCh = hedge.NewChanEmitter(eventBufSize)
		eventCh.OnDrop = m.EventsDropped.Inc
		go func() {
			for ev := range eventCh.Ch() {
				buffered.Emit(ev)
				m.EventsPublished.Inc()
			}
		}()
		emitters = append(emitters, eventCh)
	}

	// Alerts on significant lifecycle events.
	notifier := buildNotifier(cfg)
	notifyCh := hedge.NewChanEmitter(256)
	go notification.NewEventRouter(notifier).Run(ctx, notifyCh.Ch())
	emitters = append(emitters, notifyCh)

	emitters = append(emitters, hedge.EmitterFunc(func(ev *model.TradeEvent) {
		switch ev.Event {
		case model.EventPositionOpened:
			m.PositionsOpened.Inc()
		case model.EventHedgeOpened:
			m.HedgesOpened.Inc()
		case model.EventPositionClosed:
			if reason, ok := ev.Fields["reason"].(string); ok {
				m.PositionsClosed.WithLabelValues(reason).Inc()
			}
		case model.EventStuckPosition:
			m.StuckPositions.Inc()
		}
	}))

	// Gateway: paper fills track the stream, live fills come from Binance.
	var (
		gw   exchange.Gateway
		sink engine.PriceSink
	)
	if cfg.Exchange.Paper {
		paper := exchange.NewPaper(0)
		gw, sink = paper, paper
	} else {
		gw = exchange.NewBinance(exchange.BinanceConfig{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Testnet:   cfg.Exchange.Testnet,
		})
	}

	timed := exchange.NewTimed(gw, func(d time.Duration) { m.OrderLatency.Observe(d.Seconds()) })
	mgr := hedge.NewManager(cfg.Hedge, timed, emitters)
	mgr.OnClosed = func(pos hedge.Position) {
		if err := jnl.RecordPosition(pos); err != nil {
			slogger.Error("journal write failed", "symbol", pos.Symbol, "err", err)
		}
		m.RealizedPnL.Set(mgr.Stats().TotalPnL)
	}

	// Signal recorder for offline hold-period analysis.
	var tracker *sigrec.Tracker
	if cfg.RecorderDir != "" {
		tracker, err = sigrec.NewTracker(cfg.RecorderDir)
		if err != nil {
			log.Fatalf("sigrec: %v", err)
		}
		defer tracker.Close()
	}

	eng := engine.New(cfg, mgr, sink, engine.Hooks{
		OnTFCandle: func(c model.Candle) {
			m.CandlesTotal.WithLabelValues(c.TF.String()).Inc()
		},
		OnSignal: func(sig *model.SpikeSignal) {
			m.SignalsTotal.WithLabelValues(sig.Symbol, string(sig.Type)).Inc()
			m.ATRValue.WithLabelValues(sig.Symbol).Set(sig.ATRValue)
			if tracker != nil {
				tracker.Track(sigrec.NewRecord(sig))
			}
		},
		OnDrop: func(string) { m.DroppedTicks.Inc() },
	})

	// Feed: ws -> fanout -> {engine, sigrec, raw recorder}.
	ing, err := ws.New(ws.IngestConfig{Symbols: cfg.Symbols, Testnet: cfg.Exchange.Testnet})
	if err != nil {
		log.Fatalf("ws: %v", err)
	}
	ing.OnReconnect = func() {
		m.WSReconnects.Inc()
		health.SetWSConnected(true)
	}
	ing.OnTick = func() {
		m.TicksTotal.Inc()
		health.SetLastTickTime(time.Now().UTC())
	}

	fan := bus.New(tickBufSize)
	fan.OnDrop = func(name string) { m.FanoutDropsTotal.WithLabelValues(name).Inc() }
	engineCh := fan.Subscribe("engine")

	if tracker != nil {
		sigrecCh := fan.Subscribe("sigrec")
		go func() {
			for tick := range sigrecCh {
				tracker.OnTick(tick.Symbol, tick.Price, tick.TS)
			}
		}()
	}
	if *recordPath != "" {
		raw, err := recorder.New(*recordPath)
		if err != nil {
			log.Fatalf("recorder: %v", err)
		}
		async := recorder.NewAsync(raw, tickBufSize)
		go async.Run(ctx)
		rawCh := fan.Subscribe("recorder")
		go func() {
			for tick := range rawCh {
				async.Offer(tick)
			}
		}()
	}

	tickCh := make(chan *model.Tick, tickBufSize)
	go fan.Run(ctx, tickCh)
	go fan.SampleSaturation(ctx, 5*time.Second, func(name string, pct float64) {
		m.ChannelSaturationPct.WithLabelValues(name).Set(pct)
	})
	go func() {
		if err := ing.Start(ctx, tickCh); err != nil && ctx.Err() == nil {
			slogger.Error("ws ingest stopped", "err", err)
		}
	}()

	var redisClient *goredis.Client
	if publisher != nil {
		redisClient = publisher.Client()
	}
	health.StartLivenessChecker(ctx, redisClient, jnl.DB(), 15*time.Second)

	apiSrv := api.NewServer(cfg.APIAddr, mgr, jnl, health)
	apiSrv.Start()

	eng.Run(ctx, engineCh) // blocks until shutdown

	slogger.Info("shutting down, flattening open positions")
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer cancel()
	if err := mgr.ForceCloseAll(closeCtx, hedge.ReasonShutdown); err != nil {
		slogger.Error("force close failed", "err", err)
	}
	if eventCh != nil {
		eventCh.Close()
	}
	apiSrv.Stop(closeCtx)
	metricsSrv.Stop(closeCtx)
	if publisher != nil {
		publisher.Close()
	}
	slogger.Info("stopped", "processed", eng.Processed(), "dropped", eng.Dropped())
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	multi := notification.MultiNotifier{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return multi
}
