package vwap

import (
	"math"
	"sort"
)

// DeviationSnapshot is one per-bar record of the price's distance from
// the rolling VWAP. At most one exists per bar timestamp.
type DeviationSnapshot struct {
	Timestamp        int64   `json:"timestamp"`
	Price            float64 `json:"price"`
	VWAP             float64 `json:"vwap"`
	Deviation        float64 `json:"deviation"`
	DeviationPercent float64 `json:"deviation_percent"`
}

// percentileLevels are the ranks exposed in every stats block.
var percentileLevels = []int{1, 5, 10, 90, 95, 99}

// DeviationStats is derived on demand from the full deviation history.
// Both the absolute and percent series are kept: the strategy reads only
// the percent percentiles, the dashboard charts both.
type DeviationStats struct {
	Count int `json:"count"`

	MinAbs float64 `json:"min_abs"`
	MaxAbs float64 `json:"max_abs"`
	AvgAbs float64 `json:"avg_abs"`
	MinPct float64 `json:"min_pct"`
	MaxPct float64 `json:"max_pct"`
	AvgPct float64 `json:"avg_pct"`

	PercentilesAbs map[int]float64 `json:"percentiles_abs"`
	PercentilesPct map[int]float64 `json:"percentiles_pct"`

	// CurrentRank is the percent of history at or below the current
	// percent deviation.
	CurrentRank float64 `json:"current_rank"`
}

// Percentile returns the nearest-rank percentile of an ascending-sorted
// slice: the value at index floor(p/100*n), clamped to the last index.
// The second return is false on empty input.
func Percentile(sorted []float64, p float64) (float64, bool) {
	n := len(sorted)
	if n == 0 {
		return 0, false
	}
	idx := int(math.Floor(p / 100 * float64(n)))
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], true
}

// Snapshot is the aggregator's externally visible state. VWAP and the
// deviation fields are nil while the window holds no volume.
type Snapshot struct {
	VWAP             *float64            `json:"vwap"`
	Price            float64             `json:"price"`
	Deviation        *float64            `json:"deviation"`
	DeviationPercent *float64            `json:"deviation_percent"`
	Status           string              `json:"status,omitempty"` // above | below
	BarCount         int                 `json:"bar_count"`
	TotalVolume      float64             `json:"total_volume"`
	UpdatedAt        int64               `json:"updated_at"`
	WindowHours      int                 `json:"window_hours"`
	Stats            *DeviationStats     `json:"stats"`
	History          []DeviationSnapshot `json:"history"`
}

// Snapshot derives the full stats block from current state. It never
// mutates the aggregator.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Price:       a.price,
		BarCount:    len(a.bars),
		TotalVolume: a.sumVol,
		UpdatedAt:   a.priceTS,
		WindowHours: a.cfg.WindowHours,
		History:     a.sortedHistory(),
	}
	if a.vwapOK {
		w := a.vwap
		s.VWAP = &w
		dev := a.price - w
		pct := dev / w * 100
		s.Deviation = &dev
		s.DeviationPercent = &pct
		if dev >= 0 {
			s.Status = "above"
		} else {
			s.Status = "below"
		}
		s.Stats = a.deviationStats(pct)
	} else {
		s.Stats = a.deviationStats(math.NaN())
	}
	return s
}

// sortedHistory returns deviation snapshots ascending by timestamp.
// Iteration is by sorted key, never map order.
func (a *Aggregator) sortedHistory() []DeviationSnapshot {
	keys := make([]int64, 0, len(a.history))
	for ts := range a.history {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]DeviationSnapshot, 0, len(keys))
	for _, ts := range keys {
		out = append(out, a.history[ts])
	}
	return out
}

func (a *Aggregator) deviationStats(currentPct float64) *DeviationStats {
	n := len(a.history)
	if n == 0 {
		return nil
	}
	abs := make([]float64, 0, n)
	pct := make([]float64, 0, n)
	var sumAbs, sumPct float64
	for _, d := range a.history {
		abs = append(abs, d.Deviation)
		pct = append(pct, d.DeviationPercent)
		sumAbs += d.Deviation
		sumPct += d.DeviationPercent
	}
	sort.Float64s(abs)
	sort.Float64s(pct)

	st := &DeviationStats{
		Count:          n,
		MinAbs:         abs[0],
		MaxAbs:         abs[n-1],
		AvgAbs:         sumAbs / float64(n),
		MinPct:         pct[0],
		MaxPct:         pct[n-1],
		AvgPct:         sumPct / float64(n),
		PercentilesAbs: make(map[int]float64, len(percentileLevels)),
		PercentilesPct: make(map[int]float64, len(percentileLevels)),
	}
	for _, p := range percentileLevels {
		if v, ok := Percentile(abs, float64(p)); ok {
			st.PercentilesAbs[p] = v
		}
		if v, ok := Percentile(pct, float64(p)); ok {
			st.PercentilesPct[p] = v
		}
	}
	if !math.IsNaN(currentPct) {
		atOrBelow := 0
		for _, v := range pct {
			if v <= currentPct {
				atOrBelow++
			}
		}
		st.CurrentRank = float64(atOrBelow) / float64(n) * 100
	}
	return st
}
