// Command replay runs a recorded tick file through the full pipeline with
// the paper gateway and prints what the strategy would have done.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pinhedge/config"
	"pinhedge/internal/backtest"
	"pinhedge/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	file := flag.String("file", "", "NDJSON tick file to replay")
	speed := flag.Float64("speed", 0, "playback speed: 0 = full speed, 1 = real-time")
	slippage := flag.Float64("slippage", 0, "simulated fill slippage in basis points")
	verbose := flag.Bool("v", false, "print every trade event")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := backtest.New(cfg, *slippage)
	if *verbose {
		runner.OnEvent = func(ev *model.TradeEvent) {
			log.Printf("[event] %s %s %v", ev.Symbol, ev.Event, ev.Fields)
		}
	}

	res, err := runner.Run(ctx, *file, *speed)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	fmt.Print(res.Report())
}
