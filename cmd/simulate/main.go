// Command simulate replays recorded pin signals as fixed-hold trades and
// reports which hold period they pay on.
package main

import (
	"flag"
	"fmt"
	"log"

	"pinhedge/internal/sigrec"
)

func main() {
	dir := flag.String("dir", "data", "signal recorder directory")
	day := flag.String("day", "", "single day YYYYMMDD (default: all days)")
	notional := flag.Float64("notional", 15, "position size in USDT")
	leverage := flag.Int("leverage", 20, "leverage")
	flag.Parse()

	var (
		records []*sigrec.Record
		err     error
	)
	if *day != "" {
		records, err = sigrec.LoadDay(*dir, *day)
	} else {
		records, err = sigrec.LoadAll(*dir)
	}
	if err != nil {
		log.Fatalf("simulate: %v", err)
	}
	if len(records) == 0 {
		log.Fatal("simulate: no recorded signals found")
	}

	cfg := sigrec.DefaultSimConfig()
	cfg.NotionalUSDT = *notional
	cfg.Leverage = *leverage

	summary := sigrec.NewSimulator(cfg).SimulateAll(records)
	fmt.Print(summary.Report())
}
