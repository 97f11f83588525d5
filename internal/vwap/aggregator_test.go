package vwap

import (
	"math"
	"testing"

	"vwap-trader/internal/types"
)

func flatBar(start int64, price, volume float64) types.Bar {
	return types.Bar{Start: start, Open: price, High: price, Low: price, Close: price, Volume: volume}
}

// recompute derives VWAP from scratch over the retained bar set.
func recompute(a *Aggregator) (float64, bool) {
	var pv, vol float64
	for _, b := range a.bars {
		pv += b.PriceVolume()
		vol += b.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / vol, true
}

func TestRunningTotalsMatchRecompute(t *testing.T) {
	a := NewAggregator(Config{IntervalSeconds: 300, WindowHours: 1, DeviationWindowHours: 2})

	base := int64(1_700_000_000)
	// Fill beyond the window so evictions happen, revise a few bars on
	// the way, then compare against a from-scratch recompute.
	for i := int64(0); i < 20; i++ {
		a.UpdateBar(flatBar(base+i*300, 100+float64(i), 5))
		if i%3 == 0 {
			// Revise the in-progress interval with new price and volume.
			a.UpdateBar(flatBar(base+i*300, 101+float64(i), 7))
		}

		got, gotOK := a.vwap, a.vwapOK
		want, wantOK := recompute(a)
		if gotOK != wantOK {
			t.Fatalf("bar %d: vwapOK=%v, recompute ok=%v", i, gotOK, wantOK)
		}
		if gotOK && math.Abs(got-want) > 1e-9 {
			t.Fatalf("bar %d: running VWAP %.12f != recomputed %.12f", i, got, want)
		}
	}

	if a.BarCount() > 12 {
		t.Fatalf("expected at most 12 bars in a 1h window of 300s bars, got %d", a.BarCount())
	}
}

func TestUpdateBarRevisionReplacesContribution(t *testing.T) {
	a := NewAggregator(Config{IntervalSeconds: 300, WindowHours: 12})
	start := int64(1_700_000_000)

	a.UpdateBar(flatBar(start, 100, 10))
	a.UpdateBar(flatBar(start, 200, 4))

	if a.BarCount() != 1 {
		t.Fatalf("expected 1 bar after revision, got %d", a.BarCount())
	}
	if math.Abs(a.sumVol-4) > 1e-9 {
		t.Fatalf("expected volume 4 after revision, got %f", a.sumVol)
	}
	if math.Abs(a.vwap-200) > 1e-9 {
		t.Fatalf("expected VWAP 200 after revision, got %f", a.vwap)
	}
}

func TestZeroVolumeYieldsNoVWAP(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	a.UpdateBar(flatBar(1_700_000_000, 100, 0))

	snap := a.Snapshot()
	if snap.VWAP != nil {
		t.Fatalf("expected nil VWAP with zero volume, got %v", *snap.VWAP)
	}
	if snap.Deviation != nil || snap.DeviationPercent != nil {
		t.Fatal("expected nil deviation with no VWAP")
	}
	if snap.Status != "" {
		t.Fatalf("expected empty status, got %q", snap.Status)
	}
}

func TestNegativeAndNonFiniteVolumeTreatedAsZero(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	a.UpdateBar(flatBar(1_700_000_000, 100, 10))
	a.UpdateBar(flatBar(1_700_000_300, 100, -5))
	a.UpdateBar(flatBar(1_700_000_600, 100, math.NaN()))

	if math.Abs(a.sumVol-10) > 1e-9 {
		t.Fatalf("expected corrupt volumes ignored, total volume %f", a.sumVol)
	}
	if !a.vwapOK || math.Abs(a.vwap-100) > 1e-9 {
		t.Fatalf("expected VWAP 100, got %f (ok=%v)", a.vwap, a.vwapOK)
	}
}

func TestUpdatePriceIsCosmetic(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	a.UpdateBar(flatBar(1_700_000_000, 100, 10))
	before := a.vwap

	a.UpdatePrice(150, 1_700_000_100)

	if a.vwap != before {
		t.Fatalf("UpdatePrice changed VWAP: %f -> %f", before, a.vwap)
	}
	if a.price != 150 {
		t.Fatalf("expected displayed price 150, got %f", a.price)
	}
	if a.sumVol != 10 {
		t.Fatalf("UpdatePrice changed running totals")
	}
}

func TestRemoveExpiredIsIdempotent(t *testing.T) {
	a := NewAggregator(Config{IntervalSeconds: 300, WindowHours: 1, DeviationWindowHours: 2})
	base := int64(1_700_000_000)
	for i := int64(0); i < 6; i++ {
		a.UpdateBar(flatBar(base+i*300, 100, 5))
	}

	// Advance "now" far enough that the first two bars age out.
	a.nowFunc = func() int64 { return base + 3600 + 2*300 }
	a.RemoveExpired()
	first := a.BarCount()
	firstVWAP, firstOK := a.vwap, a.vwapOK

	a.RemoveExpired()
	if a.BarCount() != first || a.vwap != firstVWAP || a.vwapOK != firstOK {
		t.Fatal("second RemoveExpired pass changed state")
	}

	want, wantOK := recompute(a)
	if a.vwapOK != wantOK || math.Abs(a.vwap-want) > 1e-9 {
		t.Fatalf("totals after expiry diverge: running %f vs recomputed %f", a.vwap, want)
	}
}

func TestDeviationHistoryIdempotence(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	start := int64(1_700_000_000)

	a.UpdateBar(flatBar(start, 100, 10))
	a.UpdateBar(flatBar(start, 110, 10)) // same interval, revised price

	if len(a.history) != 1 {
		t.Fatalf("expected exactly 1 deviation snapshot, got %d", len(a.history))
	}
	d := a.history[start]
	if d.Price != 110 {
		t.Fatalf("expected latest revision recorded, got price %f", d.Price)
	}
}

func TestInitializeSortsInput(t *testing.T) {
	a := NewAggregator(Config{IntervalSeconds: 300, WindowHours: 12})
	base := int64(1_700_000_000)
	bars := []types.Bar{
		flatBar(base+600, 102, 1),
		flatBar(base, 100, 1),
		flatBar(base+300, 101, 1),
	}
	a.Initialize(bars)

	if a.BarCount() != 3 {
		t.Fatalf("expected 3 bars, got %d", a.BarCount())
	}
	if a.price != 102 {
		t.Fatalf("expected current price from latest bar, got %f", a.price)
	}
	want, _ := recompute(a)
	if math.Abs(a.vwap-want) > 1e-9 {
		t.Fatalf("running VWAP %f != recomputed %f", a.vwap, want)
	}
}

func TestInitializeDeviationHistoryTrailingWindow(t *testing.T) {
	// 2h primary window, 4h history window: a snapshot's VWAP must only
	// cover the trailing 2h, not everything before it.
	a := NewAggregator(Config{IntervalSeconds: 3600, WindowHours: 2, DeviationWindowHours: 4})
	base := int64(1_700_000_000)
	bars := []types.Bar{
		flatBar(base, 100, 1),
		flatBar(base+3600, 200, 1),
		flatBar(base+2*3600, 300, 1),
		flatBar(base+3*3600, 400, 1),
	}
	a.InitializeDeviationHistory(bars)

	d, ok := a.history[base+3*3600]
	if !ok {
		t.Fatal("expected snapshot for the latest bar")
	}
	// Trailing 2h of the last bar covers bars at +2h and +3h only.
	wantVWAP := (300.0 + 400.0) / 2
	if math.Abs(d.VWAP-wantVWAP) > 1e-9 {
		t.Fatalf("expected trailing-window VWAP %f, got %f", wantVWAP, d.VWAP)
	}
	if math.Abs(d.Deviation-(400-wantVWAP)) > 1e-9 {
		t.Fatalf("unexpected deviation %f", d.Deviation)
	}
	wantPct := (400 - wantVWAP) / wantVWAP * 100
	if math.Abs(d.DeviationPercent-wantPct) > 1e-9 {
		t.Fatalf("expected deviation %% %f, got %f", wantPct, d.DeviationPercent)
	}
}
