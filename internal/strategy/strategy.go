package strategy

import (
	"fmt"

	"vwap-trader/internal/ledger"
	"vwap-trader/internal/types"
	"vwap-trader/internal/vwap"
)

// Config holds every strategy threshold, in percentage points (0.6 means
// 0.6%). Long-side values are negative.
type Config struct {
	Short1Abs float64 // minimum percent deviation for a first short
	Short2Abs float64 // minimum percent deviation for the short add
	Long1Abs  float64 // maximum percent deviation for a first long
	Long2Abs  float64 // maximum percent deviation for the long add

	TakeProfit float64 // |deviation| below this closes any position

	ShortStop float64 // deviation at or above this stops out a short
	LongStop  float64 // deviation at or below this stops out a long

	NeutralMin float64 // reentry lock clears inside [NeutralMin, NeutralMax]
	NeutralMax float64
}

func DefaultConfig() Config {
	return Config{
		Short1Abs:  0.6,
		Short2Abs:  0.75,
		Long1Abs:   -0.75,
		Long2Abs:   -0.9,
		TakeProfit: 0.1,
		ShortStop:  2.25,
		LongStop:   -2.4,
		NeutralMin: -0.75,
		NeutralMax: 0.6,
	}
}

// Lock is the one-slot reentry suppression state set by a stop-loss.
type Lock string

const (
	LockNone         Lock = ""
	LockWaitingShort Lock = "waiting-short"
	LockWaitingLong  Lock = "waiting-long"
)

// Engine is a pure function of (snapshot, position) plus the single
// reentry lock. It never touches the ledger itself.
type Engine struct {
	cfg  Config
	lock Lock
}

func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Short1Abs == 0 {
		cfg.Short1Abs = def.Short1Abs
	}
	if cfg.Short2Abs == 0 {
		cfg.Short2Abs = def.Short2Abs
	}
	if cfg.Long1Abs == 0 {
		cfg.Long1Abs = def.Long1Abs
	}
	if cfg.Long2Abs == 0 {
		cfg.Long2Abs = def.Long2Abs
	}
	if cfg.TakeProfit == 0 {
		cfg.TakeProfit = def.TakeProfit
	}
	if cfg.ShortStop == 0 {
		cfg.ShortStop = def.ShortStop
	}
	if cfg.LongStop == 0 {
		cfg.LongStop = def.LongStop
	}
	if cfg.NeutralMin == 0 {
		cfg.NeutralMin = def.NeutralMin
	}
	if cfg.NeutralMax == 0 {
		cfg.NeutralMax = def.NeutralMax
	}
	return &Engine{cfg: cfg}
}

// ReentryLock exposes the current lock state for status views.
func (e *Engine) ReentryLock() Lock { return e.lock }

// EvaluateEntry decides whether to open or add to a position for the
// given snapshot. The position argument must reflect any exit already
// applied for the same snapshot.
func (e *Engine) EvaluateEntry(snap vwap.Snapshot, pos *ledger.Position) types.Signal {
	if snap.DeviationPercent == nil {
		return types.None("no VWAP available")
	}
	dev := *snap.DeviationPercent

	if e.lock != LockNone {
		if dev >= e.cfg.NeutralMin && dev <= e.cfg.NeutralMax {
			e.lock = LockNone
		} else {
			return types.None(fmt.Sprintf("reentry locked (%s): deviation %.3f%% outside neutral band [%.2f, %.2f]",
				e.lock, dev, e.cfg.NeutralMin, e.cfg.NeutralMax))
		}
	}

	if snap.Stats == nil || snap.Stats.Count == 0 {
		return types.None("insufficient deviation history")
	}
	pct := snap.Stats.PercentilesPct

	if pos == nil {
		short1 := max(pct[90], e.cfg.Short1Abs)
		long1 := min(pct[10], e.cfg.Long1Abs)
		switch {
		case dev >= short1:
			return types.Signal{
				Action: types.ActionEnter,
				Side:   types.SideShort,
				Level:  types.LevelShort1,
				Reason: fmt.Sprintf("deviation %.3f%% >= short1 threshold %.3f%%", dev, short1),
			}
		case dev <= long1:
			return types.Signal{
				Action: types.ActionEnter,
				Side:   types.SideLong,
				Level:  types.LevelLong1,
				Reason: fmt.Sprintf("deviation %.3f%% <= long1 threshold %.3f%%", dev, long1),
			}
		default:
			return types.None("deviation inside entry thresholds")
		}
	}

	// Add levels only fire on a single-entry position of matching side.
	if len(pos.Entries) != 1 {
		return types.None("position already fully laddered")
	}
	first := pos.Entries[0]

	if pos.Side == types.SideShort && first.Level == types.LevelShort1 {
		short2 := max(pct[95], e.cfg.Short2Abs)
		if dev >= short2 {
			return types.Signal{
				Action: types.ActionAdd,
				Side:   types.SideShort,
				Level:  types.LevelShort2,
				Reason: fmt.Sprintf("deviation %.3f%% >= short2 threshold %.3f%%", dev, short2),
			}
		}
		return types.None("short add threshold not reached")
	}
	if pos.Side == types.SideLong && first.Level == types.LevelLong1 {
		long2 := min(pct[5], e.cfg.Long2Abs)
		if dev <= long2 {
			return types.Signal{
				Action: types.ActionAdd,
				Side:   types.SideLong,
				Level:  types.LevelLong2,
				Reason: fmt.Sprintf("deviation %.3f%% <= long2 threshold %.3f%%", dev, long2),
			}
		}
		return types.None("long add threshold not reached")
	}
	return types.None("no add level defined for position")
}

// EvaluateExit decides whether the open position should be closed.
// Take-profit is checked before stop-loss; only a stop-loss sets the
// reentry lock. Stop levels are fixed thresholds, never
// percentile-derived.
func (e *Engine) EvaluateExit(snap vwap.Snapshot, pos *ledger.Position) types.Signal {
	if pos == nil {
		return types.None("no open position")
	}
	if snap.DeviationPercent == nil {
		return types.None("no VWAP available")
	}
	dev := *snap.DeviationPercent

	if dev < e.cfg.TakeProfit && dev > -e.cfg.TakeProfit {
		return types.Signal{
			Action: types.ActionClose,
			Side:   pos.Side,
			Exit:   types.ExitTakeProfit,
			Reason: fmt.Sprintf("deviation %.3f%% inside take-profit band ±%.2f%%", dev, e.cfg.TakeProfit),
		}
	}

	if pos.Side == types.SideShort && dev >= e.cfg.ShortStop {
		e.lock = LockWaitingShort
		return types.Signal{
			Action: types.ActionClose,
			Side:   types.SideShort,
			Exit:   types.ExitStopLoss,
			Reason: fmt.Sprintf("deviation %.3f%% >= short stop %.2f%%", dev, e.cfg.ShortStop),
		}
	}
	if pos.Side == types.SideLong && dev <= e.cfg.LongStop {
		e.lock = LockWaitingLong
		return types.Signal{
			Action: types.ActionClose,
			Side:   types.SideLong,
			Exit:   types.ExitStopLoss,
			Reason: fmt.Sprintf("deviation %.3f%% <= long stop %.2f%%", dev, e.cfg.LongStop),
		}
	}
	return types.None("hold")
}
