package vwap

import (
	"math"
	"sort"
	"time"

	"vwap-trader/internal/types"
)

// Config bounds the two rolling windows. DeviationWindowHours must be at
// least WindowHours: every deviation snapshot references a VWAP computed
// over a full primary window.
type Config struct {
	IntervalSeconds      int
	WindowHours          int
	DeviationWindowHours int
}

func DefaultConfig() Config {
	return Config{
		IntervalSeconds:      300,
		WindowHours:          12,
		DeviationWindowHours: 72,
	}
}

func (c Config) windowSeconds() int64 {
	return int64(c.WindowHours) * 3600
}

func (c Config) deviationWindowSeconds() int64 {
	return int64(c.DeviationWindowHours) * 3600
}

// maxBars is the bar budget of the primary window.
func (c Config) maxBars() int {
	if c.IntervalSeconds <= 0 {
		return 0
	}
	return int(c.windowSeconds() / int64(c.IntervalSeconds))
}

// Aggregator maintains a primary rolling window of bars with incremental
// VWAP running totals, and a longer rolling history of per-bar VWAP
// deviation snapshots. All methods assume externally serialized calls.
type Aggregator struct {
	cfg Config

	bars    map[int64]types.Bar
	sumPV   float64 // Σ typicalPrice*volume over retained bars
	sumVol  float64 // Σ volume over retained bars
	vwap    float64
	vwapOK  bool
	price   float64
	priceTS int64
	barTS   int64 // start of the most recent bar seen
	history map[int64]DeviationSnapshot
	nowFunc func() int64
}

func NewAggregator(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = def.IntervalSeconds
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = def.WindowHours
	}
	if cfg.DeviationWindowHours <= 0 {
		cfg.DeviationWindowHours = def.DeviationWindowHours
	}
	if cfg.DeviationWindowHours < cfg.WindowHours {
		cfg.DeviationWindowHours = cfg.WindowHours
	}
	return &Aggregator{
		cfg:     cfg,
		bars:    make(map[int64]types.Bar),
		history: make(map[int64]DeviationSnapshot),
		nowFunc: func() int64 { return time.Now().Unix() },
	}
}

// Initialize resets all state and replays the supplied bars through the
// live insertion path, oldest first. Callers normally supply at most one
// window's worth, but the eviction logic holds regardless.
func (a *Aggregator) Initialize(bars []types.Bar) {
	a.bars = make(map[int64]types.Bar)
	a.history = make(map[int64]DeviationSnapshot)
	a.sumPV, a.sumVol = 0, 0
	a.vwap, a.vwapOK = 0, false
	a.price, a.priceTS, a.barTS = 0, 0, 0

	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for _, b := range sorted {
		a.UpdateBar(b)
	}
}

// InitializeDeviationHistory backfills the deviation history from raw
// bars. For each bar inside the deviation window it recomputes the VWAP
// of the trailing primary-window slice ending at that bar by summing the
// sub-range directly; the live running totals are untouched. Backfilling
// the full history therefore needs two primary windows of input.
func (a *Aggregator) InitializeDeviationHistory(bars []types.Bar) {
	if len(bars) == 0 {
		return
	}
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	latest := sorted[len(sorted)-1].Start
	histCutoff := latest - a.cfg.deviationWindowSeconds()
	winLen := a.cfg.windowSeconds()

	a.history = make(map[int64]DeviationSnapshot)
	for i, b := range sorted {
		if b.Start < histCutoff {
			continue
		}
		var pv, vol float64
		lo := b.Start - winLen
		for j := i; j >= 0 && sorted[j].Start > lo; j-- {
			pv += sanitize(sorted[j]).PriceVolume()
			vol += sanitize(sorted[j]).Volume
		}
		if vol <= 0 {
			continue
		}
		w := pv / vol
		dev := b.Close - w
		a.history[b.Start] = DeviationSnapshot{
			Timestamp:        b.Start,
			Price:            b.Close,
			VWAP:             w,
			Deviation:        dev,
			DeviationPercent: dev / w * 100,
		}
	}
}

// UpdateBar inserts or revises one bar. A revision of an existing start
// first backs its old contribution out of the running totals; a fresh
// insert first evicts expired bars. The totals, VWAP, current price and
// deviation history are all refreshed before returning.
func (a *Aggregator) UpdateBar(bar types.Bar) {
	bar = sanitize(bar)

	if old, ok := a.bars[bar.Start]; ok {
		a.sumPV -= old.PriceVolume()
		a.sumVol -= old.Volume
	} else {
		now := bar.Start
		if a.barTS > now {
			now = a.barTS
		}
		a.evictExpired(now)
	}

	a.bars[bar.Start] = bar
	a.sumPV += bar.PriceVolume()
	a.sumVol += bar.Volume
	a.recomputeVWAP()

	if bar.Start >= a.barTS {
		a.barTS = bar.Start
		a.price = bar.Close
		a.priceTS = bar.Start
	}
	a.recordDeviation()
}

// UpdatePrice refreshes only the displayed price between bar closes; the
// running totals and VWAP are untouched.
func (a *Aggregator) UpdatePrice(price float64, ts int64) {
	if !isFinite(price) || price <= 0 {
		return
	}
	a.price = price
	a.priceTS = ts
}

// RemoveExpired is the timer-driven pruning pass. It is idempotent and
// leaves the running totals as if the expired bars had never been
// inserted.
func (a *Aggregator) RemoveExpired() {
	a.evictExpired(a.nowFunc())
	a.pruneHistory()
}

func (a *Aggregator) evictExpired(now int64) {
	cutoff := now - a.cfg.windowSeconds()
	changed := false
	for start, b := range a.bars {
		if start <= cutoff {
			a.sumPV -= b.PriceVolume()
			a.sumVol -= b.Volume
			delete(a.bars, start)
			changed = true
		}
	}
	// Bar budget backstop: drop oldest until within the window's bar count.
	for budget := a.cfg.maxBars(); budget > 0 && len(a.bars) > budget; {
		oldest := int64(math.MaxInt64)
		for start := range a.bars {
			if start < oldest {
				oldest = start
			}
		}
		b := a.bars[oldest]
		a.sumPV -= b.PriceVolume()
		a.sumVol -= b.Volume
		delete(a.bars, oldest)
		changed = true
	}
	if changed {
		a.recomputeVWAP()
	}
}

func (a *Aggregator) recomputeVWAP() {
	if a.sumVol > 0 {
		a.vwap = a.sumPV / a.sumVol
		a.vwapOK = true
	} else {
		a.vwap = 0
		a.vwapOK = false
	}
}

// recordDeviation snapshots the current price's distance from VWAP at the
// current bar timestamp, replacing any earlier snapshot for the same bar.
func (a *Aggregator) recordDeviation() {
	if !a.vwapOK || a.price <= 0 || a.barTS == 0 {
		return
	}
	dev := a.price - a.vwap
	a.history[a.barTS] = DeviationSnapshot{
		Timestamp:        a.barTS,
		Price:            a.price,
		VWAP:             a.vwap,
		Deviation:        dev,
		DeviationPercent: dev / a.vwap * 100,
	}
	a.pruneHistory()
}

func (a *Aggregator) pruneHistory() {
	latest := a.barTS
	if latest == 0 {
		return
	}
	cutoff := latest - a.cfg.deviationWindowSeconds()
	for ts := range a.history {
		if ts < cutoff {
			delete(a.history, ts)
		}
	}
}

// BarCount reports how many bars the primary window currently retains.
func (a *Aggregator) BarCount() int { return len(a.bars) }

// sanitize guards against non-finite or negative volume corrupting the
// running totals; such bars are treated as zero-volume.
func sanitize(b types.Bar) types.Bar {
	if !isFinite(b.Volume) || b.Volume < 0 {
		b.Volume = 0
	}
	if !isFinite(b.High) || !isFinite(b.Low) || !isFinite(b.Close) {
		b.Volume = 0
	}
	return b
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
