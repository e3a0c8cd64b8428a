package sigrec

import (
	"fmt"
	"strings"

	"pinhedge/internal/model"
)

// SimConfig sizes the simulated fixed-hold trades.
type SimConfig struct {
	NotionalUSDT float64
	Leverage     int
	FeeRate      float64
	StopLossPct  float64 // of notional, not price
}

// DefaultSimConfig matches the live position sizing.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NotionalUSDT: 15,
		Leverage:     20,
		FeeRate:      0.0004,
		StopLossPct:  20,
	}
}

// TradeResult is the outcome of holding one signal for one fixed period.
type TradeResult struct {
	HoldPeriod int     `json:"hold_period"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	ProfitUSD  float64 `json:"profit_usd"`
	ProfitPct  float64 `json:"profit_percent"` // of notional
	FeeUSD     float64 `json:"fee_usd"`
	Stopped    bool    `json:"stopped"`
}

// SimResult aggregates one signal across all hold periods.
type SimResult struct {
	RecordID  string              `json:"record_id"`
	Symbol    string              `json:"symbol"`
	Direction string              `json:"direction"`
	Results   map[int]TradeResult `json:"results"`

	BestPeriod    int     `json:"best_period"` // 0 when no period profits
	BestProfitUSD float64 `json:"best_profit_usd"`
	Tradeable     bool    `json:"tradeable"`
}

// Simulator replays recorded signals as fixed-hold trades.
type Simulator struct {
	cfg SimConfig
}

func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// Simulate runs one record through every hold period. Periods whose price
// mark was never sampled are skipped.
func (s *Simulator) Simulate(r *Record) SimResult {
	res := SimResult{
		RecordID:  r.ID,
		Symbol:    r.Symbol,
		Direction: r.Direction,
		Results:   make(map[int]TradeResult, len(HoldPeriods)),
	}
	for _, period := range HoldPeriods {
		mark, ok := r.PriceAfter(period)
		if !ok {
			continue
		}
		tr := s.simulatePeriod(r, period, mark)
		res.Results[period] = tr
		if tr.ProfitUSD > 0 {
			res.Tradeable = true
			if res.BestPeriod == 0 || tr.ProfitUSD > res.BestProfitUSD {
				res.BestPeriod = period
				res.BestProfitUSD = tr.ProfitUSD
			}
		}
	}
	return res
}

func (s *Simulator) simulatePeriod(r *Record, period int, mark float64) TradeResult {
	entry := r.EntryPrice
	if r.BestEntryPrice > 0 {
		entry = r.BestEntryPrice
	}

	// The stop converts the loss cap from notional terms into a price:
	// StopLossPct of notional at the configured leverage.
	stopMove := s.cfg.StopLossPct / 100 / float64(s.cfg.Leverage)
	exit := mark
	stopped := false
	if r.Direction == string(model.DirectionUp) {
		if stop := entry * (1 - stopMove); exit < stop {
			exit = stop
			stopped = true
		}
	} else {
		if stop := entry * (1 + stopMove); exit > stop {
			exit = stop
			stopped = true
		}
	}

	var changePct float64
	if r.Direction == string(model.DirectionUp) {
		changePct = (exit - entry) / entry
	} else {
		changePct = (entry - exit) / entry
	}

	gross := s.cfg.NotionalUSDT * changePct * float64(s.cfg.Leverage)
	fee := s.cfg.NotionalUSDT * float64(s.cfg.Leverage) * s.cfg.FeeRate * 2
	net := gross - fee

	return TradeResult{
		HoldPeriod: period,
		EntryPrice: entry,
		ExitPrice:  exit,
		ProfitUSD:  net,
		ProfitPct:  net / s.cfg.NotionalUSDT * 100,
		FeeUSD:     fee,
		Stopped:    stopped,
	}
}

// PeriodSummary aggregates one hold period over a batch.
type PeriodSummary struct {
	Period   int     `json:"period"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Stopped  int     `json:"stopped"`
	TotalUSD float64 `json:"total_usd"`
}

// BatchSummary is the profitability report over a set of records.
type BatchSummary struct {
	Signals   int             `json:"signals"`
	Tradeable int             `json:"tradeable"`
	Periods   []PeriodSummary `json:"periods"`
	BestCount map[int]int     `json:"best_count"` // hold period -> times it won
}

// SimulateAll runs a batch and aggregates per-period results.
func (s *Simulator) SimulateAll(records []*Record) BatchSummary {
	byPeriod := make(map[int]*PeriodSummary, len(HoldPeriods))
	for _, p := range HoldPeriods {
		byPeriod[p] = &PeriodSummary{Period: p}
	}
	sum := BatchSummary{BestCount: make(map[int]int)}

	for _, r := range records {
		res := s.Simulate(r)
		sum.Signals++
		if res.Tradeable {
			sum.Tradeable++
		}
		if res.BestPeriod != 0 {
			sum.BestCount[res.BestPeriod]++
		}
		for period, tr := range res.Results {
			ps := byPeriod[period]
			ps.Trades++
			ps.TotalUSD += tr.ProfitUSD
			if tr.ProfitUSD > 0 {
				ps.Wins++
			}
			if tr.Stopped {
				ps.Stopped++
			}
		}
	}

	for _, p := range HoldPeriods {
		sum.Periods = append(sum.Periods, *byPeriod[p])
	}
	return sum
}

// Report renders the batch summary as a plain-text table.
func (b BatchSummary) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "signals=%d tradeable=%d\n", b.Signals, b.Tradeable)
	fmt.Fprintf(&sb, "%8s %8s %6s %8s %12s %6s\n", "hold", "trades", "wins", "stopped", "total_usd", "best")
	for _, p := range b.Periods {
		fmt.Fprintf(&sb, "%7ds %8d %6d %8d %12.4f %6d\n",
			p.Period, p.Trades, p.Wins, p.Stopped, p.TotalUSD, b.BestCount[p.Period])
	}
	return sb.String()
}
