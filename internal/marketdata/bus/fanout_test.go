package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pinhedge/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("engine")
	out2 := fo.Subscribe("recorder")

	input := make(chan *model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	tick := &model.Tick{
		Symbol: "BTCUSDT",
		Price:  64210.5,
		Qty:    0.02,
		TS:     time.Now().UTC(),
	}

	input <- tick
	time.Sleep(50 * time.Millisecond)

	select {
	case got := <-out1:
		if got.Symbol != "BTCUSDT" {
			t.Errorf("out1: expected symbol BTCUSDT, got %s", got.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for tick")
	}

	select {
	case got := <-out2:
		if got.Symbol != "BTCUSDT" {
			t.Errorf("out2: expected symbol BTCUSDT, got %s", got.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for tick")
	}

	cancel()
}

func TestFanOut_SlowSubscriberDoesNotBlock(t *testing.T) {
	fo := New(1)
	slow := fo.Subscribe("slow")

	var dropped atomic.Int64
	fo.OnDrop = func(name string) { dropped.Add(1) }

	input := make(chan *model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 5; i++ {
		input <- &model.Tick{Symbol: "BTCUSDT", Price: 100 + float64(i), TS: time.Now().UTC()}
	}
	close(input)
	time.Sleep(50 * time.Millisecond)

	// buffer of one: the rest must have been shed, not queued
	if got := <-slow; got.Price != 100 {
		t.Errorf("expected first tick to survive, got price %.1f", got.Price)
	}
	if dropped.Load() == 0 {
		t.Error("expected drops for the slow subscriber")
	}
}

func TestFanOut_SaturationSampling(t *testing.T) {
	fo := New(4)
	fo.Subscribe("engine") // left undrained

	input := make(chan *model.Tick, 4)
	for i := 0; i < 2; i++ {
		input <- &model.Tick{Symbol: "BTCUSDT", Price: 1, Qty: 1, TS: time.Now().UTC()}
	}
	close(input)
	fo.Run(context.Background(), input) // returns once input drains

	got := map[string]float64{}
	fo.sampleOnce(func(name string, pct float64) { got[name] = pct })
	if got["engine"] != 50 {
		t.Fatalf("saturation = %v, want engine=50", got)
	}
}

func TestFanOut_SampleSaturationStopsOnCancel(t *testing.T) {
	fo := New(4)
	fo.Subscribe("engine")

	ctx, cancel := context.WithCancel(context.Background())
	var samples atomic.Int64
	done := make(chan struct{})
	go func() {
		fo.SampleSaturation(ctx, time.Millisecond, func(string, float64) { samples.Add(1) })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
	if samples.Load() == 0 {
		t.Fatal("sampler never reported")
	}
}
