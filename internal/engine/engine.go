package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"vwap-trader/internal/ledger"
	"vwap-trader/internal/logger"
	"vwap-trader/internal/store"
	"vwap-trader/internal/strategy"
	"vwap-trader/internal/tradelog"
	"vwap-trader/internal/types"
	"vwap-trader/internal/vwap"
)

type eventKind int

const (
	eventBar eventKind = iota
	eventTick
)

type event struct {
	kind eventKind
	bar  types.Bar
	tick types.Tick
}

// StepResult is what one processed feed event produced, broadcast to
// subscribers after the decision/ledger sequence completes.
type StepResult struct {
	Product  string        `json:"product"`
	Time     int64         `json:"time"`
	Snapshot vwap.Snapshot `json:"snapshot"`
	Exit     types.Signal  `json:"exit"`
	Entry    types.Signal  `json:"entry"`
	View     ledger.View   `json:"view"`
}

// Engine serializes feed events and maintenance ticks through a single
// queue, runs the exit-then-entry decision sequence atomically per
// event, and exposes read snapshots for the presentation layer.
type Engine struct {
	cfg     *store.Config
	product string

	mu  sync.RWMutex
	agg *vwap.Aggregator
	dec *strategy.Engine
	led *ledger.Ledger

	events chan event
	onStep func(StepResult)
}

func New(cfg *store.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		product: cfg.Product.ID,
		agg: vwap.NewAggregator(vwap.Config{
			IntervalSeconds:      cfg.Window.BarIntervalSeconds,
			WindowHours:          cfg.Window.PrimaryHours,
			DeviationWindowHours: cfg.Window.DeviationHistoryHours,
		}),
		dec: strategy.New(strategy.Config{
			Short1Abs:  cfg.Strategy.Short1Pct,
			Short2Abs:  cfg.Strategy.Short2Pct,
			Long1Abs:   cfg.Strategy.Long1Pct,
			Long2Abs:   cfg.Strategy.Long2Pct,
			TakeProfit: cfg.Strategy.TakeProfitPct,
			ShortStop:  cfg.Strategy.ShortStopPct,
			LongStop:   cfg.Strategy.LongStopPct,
			NeutralMin: cfg.Strategy.NeutralMinPct,
			NeutralMax: cfg.Strategy.NeutralMaxPct,
		}),
		led: ledger.New(ledger.Config{
			StartingCash: cfg.Ledger.StartingCash,
			ContractSize: cfg.Ledger.ContractSize,
			FeeRate:      cfg.Ledger.FeeRate,
			SlippageRate: cfg.Ledger.SlippageRate,
		}),
		events: make(chan event, 256),
	}
}

// OnStep registers the broadcast hook called after each processed bar.
// Must be set before Run.
func (e *Engine) OnStep(fn func(StepResult)) { e.onStep = fn }

// Backfill seeds the aggregator from historical bars before live events
// flow. The most recent primary window feeds the running totals; the
// whole batch rebuilds the deviation history.
func (e *Engine) Backfill(ctx context.Context, bars []types.Bar) error {
	if len(bars) == 0 {
		return errors.New("no historical bars supplied")
	}
	op := logger.StartOperation(ctx, "engine.backfill")

	e.mu.Lock()
	e.agg.Initialize(bars)
	e.agg.InitializeDeviationHistory(bars)
	snap := e.agg.Snapshot()
	e.mu.Unlock()

	histCount := 0
	if snap.Stats != nil {
		histCount = snap.Stats.Count
	}
	op.End("bars", len(bars), "window_bars", snap.BarCount, "history", histCount)
	logger.Info(ctx, "Backfill complete",
		"product", e.product, "bars", len(bars),
		"window_bars", snap.BarCount, "deviation_history", histCount)
	return nil
}

// OfferBar enqueues a bar event; under backpressure the event is dropped
// and the next bar revision carries the interval forward.
func (e *Engine) OfferBar(ctx context.Context, bar types.Bar) {
	select {
	case e.events <- event{kind: eventBar, bar: bar}:
	default:
		logger.Warn(ctx, "Event queue full, dropping bar", "product", e.product, "start", bar.Start)
	}
}

// OfferTick enqueues a ticker event. Ticks are cosmetic, dropping one
// under load is harmless.
func (e *Engine) OfferTick(ctx context.Context, tick types.Tick) {
	select {
	case e.events <- event{kind: eventTick, tick: tick}:
	default:
	}
}

// Run consumes the event queue until the context ends. Feed events and
// the pruning tick share one loop, so every mutation of the aggregator,
// strategy and ledger is totally ordered.
func (e *Engine) Run(ctx context.Context) {
	prune := time.NewTicker(time.Duration(e.cfg.PruneSeconds) * time.Second)
	defer prune.Stop()

	logger.Info(ctx, "Engine started", "product", e.product)
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Engine stopped", "product", e.product)
			return
		case <-prune.C:
			e.mu.Lock()
			e.agg.RemoveExpired()
			e.mu.Unlock()
		case ev := <-e.events:
			switch ev.kind {
			case eventBar:
				res := e.applyBar(ctx, ev.bar)
				if e.onStep != nil {
					e.onStep(res)
				}
			case eventTick:
				e.mu.Lock()
				e.agg.UpdatePrice(ev.tick.Price, ev.tick.Time)
				e.mu.Unlock()
			}
		}
	}
}

// applyBar updates the window and runs the decision sequence for the
// resulting snapshot: exit first, then entry against the post-exit
// position, with no other event interleaving.
func (e *Engine) applyBar(ctx context.Context, bar types.Bar) StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.agg.UpdateBar(bar)
	snap := e.agg.Snapshot()

	res := StepResult{Product: e.product, Time: bar.Start, Snapshot: snap}
	devPct := 0.0
	if snap.DeviationPercent != nil {
		devPct = *snap.DeviationPercent
	}

	res.Exit = e.dec.EvaluateExit(snap, e.led.Position())
	if res.Exit.Action == types.ActionClose {
		rec, err := e.led.ClosePosition(res.Exit, snap.Price, devPct)
		if err != nil {
			logger.ErrorWithErr(ctx, "Close rejected", err, "product", e.product)
		} else {
			logger.Fill(ctx, e.product, string(rec.Side), rec.Contracts, rec.Price,
				"action", "close", "exit_type", string(rec.Exit), "net_pnl", rec.NetPnL)
			if rec.Exit == types.ExitStopLoss {
				logger.Risk(ctx, e.product, "STOP_LOSS",
					"lock", string(e.dec.ReentryLock()), "net_pnl", rec.NetPnL)
			}
			_ = tradelog.AppendFill(e.product, *rec)
		}
	}

	res.Entry = e.dec.EvaluateEntry(snap, e.led.Position())
	if res.Entry.Action == types.ActionEnter || res.Entry.Action == types.ActionAdd {
		pos, err := e.led.EnterPosition(res.Entry, snap.Price, devPct)
		var insufficient *ledger.InsufficientFundsError
		switch {
		case errors.As(err, &insufficient):
			logger.Warn(ctx, "Entry rejected: insufficient funds", "product", e.product,
				"required", insufficient.Required, "available", insufficient.Available)
		case err != nil:
			logger.ErrorWithErr(ctx, "Entry rejected", err, "product", e.product)
		default:
			last := pos.Entries[len(pos.Entries)-1]
			logger.Fill(ctx, e.product, string(pos.Side), last.Contracts, last.Price,
				"action", string(res.Entry.Action), "level", string(last.Level),
				"avg_entry", pos.AvgEntryPrice)
			hist := e.led.History()
			_ = tradelog.AppendFill(e.product, hist[len(hist)-1])
		}
	}

	if res.Exit.Action != types.ActionNone || res.Entry.Action != types.ActionNone {
		action := res.Entry.Action
		reason := res.Entry.Reason
		if res.Exit.Action == types.ActionClose {
			action = res.Exit.Action
			reason = res.Exit.Reason
		}
		logger.Signal(ctx, e.product, string(action), reason, devPct)
		_ = tradelog.AppendSignal(tradelog.SignalEntry{
			Product:      e.product,
			Action:       action,
			Reason:       reason,
			Price:        snap.Price,
			DeviationPct: devPct,
		})
	}

	res.View = e.led.UpdatePosition(snap.Price, devPct)
	return res
}

// Stats returns the current aggregator snapshot.
func (e *Engine) Stats() vwap.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agg.Snapshot()
}

// PositionView marks the open position (if any) to the latest price.
func (e *Engine) PositionView() ledger.View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.agg.Snapshot()
	devPct := 0.0
	if snap.DeviationPercent != nil {
		devPct = *snap.DeviationPercent
	}
	return e.led.UpdatePosition(snap.Price, devPct)
}

// Trades returns the append-only trade history.
func (e *Engine) Trades() []ledger.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.History()
}

// Performance aggregates the closed-trade subset of the history.
func (e *Engine) Performance() ledger.Performance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.led.Performance()
}

// ReentryLock exposes the strategy's lockout state for status views.
func (e *Engine) ReentryLock() strategy.Lock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dec.ReentryLock()
}
