package ledger

import (
	"errors"
	"fmt"
	"time"

	"vwap-trader/internal/types"
)

// Config holds the simulated execution model. Rates are fractions
// (0.00065 means 0.065%). Slippage is always applied adversely to the
// trade direction.
type Config struct {
	StartingCash float64
	ContractSize float64 // base units per contract
	FeeRate      float64 // charged on notional at entry and exit
	SlippageRate float64
}

func DefaultConfig() Config {
	return Config{
		StartingCash: 10000,
		ContractSize: 0.01,
		FeeRate:      0.00065,
		SlippageRate: 0.0005,
	}
}

// ErrNoPosition is returned when closing without an open position.
var ErrNoPosition = errors.New("no open position")

// InsufficientFundsError reports a rejected long fill with the amounts
// involved. Nothing else changes on this path.
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %.2f, have %.2f", e.Required, e.Available)
}

// Entry is one fill inside a position.
type Entry struct {
	Level     types.Level `json:"level"`
	Contracts int         `json:"contracts"`
	Price     float64     `json:"price"` // fill price, slippage applied
	Fee       float64     `json:"fee"`
	Time      int64       `json:"time"`
}

// Position is the single open position; at most one exists at a time.
type Position struct {
	Side          types.Side `json:"side"`
	Entries       []Entry    `json:"entries"`
	Contracts     int        `json:"contracts"`
	Size          float64    `json:"size"` // base units
	AvgEntryPrice float64    `json:"avg_entry_price"`
	EntryFees     float64    `json:"entry_fees"`
	OpenedAt      int64      `json:"opened_at"`
}

// TradeRecord is one append-only trade-history row. Close records carry
// the realized P&L of the whole position.
type TradeRecord struct {
	Time      int64          `json:"time"`
	Action    types.Action   `json:"action"`
	Side      types.Side     `json:"side"`
	Level     types.Level    `json:"level,omitempty"`
	Exit      types.ExitType `json:"exit_type,omitempty"`
	Price     float64        `json:"price"` // fill price
	Contracts int            `json:"contracts"`
	Size      float64        `json:"size"`
	Fee       float64        `json:"fee"`
	GrossPnL  float64        `json:"gross_pnl,omitempty"`
	NetPnL    float64        `json:"net_pnl,omitempty"`
	Deviation float64        `json:"deviation_pct"`
	Reason    string         `json:"reason,omitempty"`
}

// View is the mark-to-market state returned by UpdatePosition. It is
// always well-defined, including with no open position.
type View struct {
	Position         *Position `json:"position"`
	MarkPrice        float64   `json:"mark_price"`
	Deviation        float64   `json:"deviation_pct"`
	UnrealizedGross  float64   `json:"unrealized_gross"`
	UnrealizedNet    float64   `json:"unrealized_net"`
	EstimatedExitFee float64   `json:"estimated_exit_fee"`
	EntryFees        float64   `json:"entry_fees"`
	PositionValue    float64   `json:"position_value"`
	Cash             float64   `json:"cash"`
	Equity           float64   `json:"equity"`
	RealizedPnL      float64   `json:"realized_pnl"`
}

// Performance is a pure aggregation over the closed-trade subset of the
// history; no separate counters are maintained.
type Performance struct {
	Trades      int     `json:"trades"` // all history rows
	Closed      int     `json:"closed"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"` // percent
	RealizedPnL float64 `json:"realized_pnl"`
	ReturnPct   float64 `json:"return_pct"`
}

// Ledger is the simulated cash/position bookkeeper. Short entries debit
// only the fee: there is deliberately no margin model here, so the cash
// balance does not mirror real exchange margin requirements.
type Ledger struct {
	cfg      Config
	cash     float64
	realized float64
	pos      *Position
	history  []TradeRecord
	nowFunc  func() int64
}

func New(cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = def.StartingCash
	}
	if cfg.ContractSize <= 0 {
		cfg.ContractSize = def.ContractSize
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = def.FeeRate
	}
	if cfg.SlippageRate == 0 {
		cfg.SlippageRate = def.SlippageRate
	}
	return &Ledger{
		cfg:     cfg,
		cash:    cfg.StartingCash,
		nowFunc: func() int64 { return time.Now().Unix() },
	}
}

// Position returns the open position, or nil.
func (l *Ledger) Position() *Position { return l.pos }

// Cash returns the simulated cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// History returns the append-only trade history.
func (l *Ledger) History() []TradeRecord {
	out := make([]TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// EnterPosition fills one contract for an enter or add signal. The fill
// price is worsened by slippage; a long fill is rejected when cash cannot
// cover notional plus fee.
func (l *Ledger) EnterPosition(sig types.Signal, price, deviationPct float64) (*Position, error) {
	if sig.Side != types.SideLong && sig.Side != types.SideShort {
		return nil, fmt.Errorf("invalid signal side %q", sig.Side)
	}
	if l.pos != nil && l.pos.Side != sig.Side {
		return nil, fmt.Errorf("open position is %s, cannot fill %s", l.pos.Side, sig.Side)
	}

	var fill float64
	if sig.Side == types.SideLong {
		fill = price * (1 + l.cfg.SlippageRate)
	} else {
		fill = price * (1 - l.cfg.SlippageRate)
	}
	notional := fill * l.cfg.ContractSize
	fee := notional * l.cfg.FeeRate

	if sig.Side == types.SideLong {
		if l.cash < notional+fee {
			return nil, &InsufficientFundsError{Required: notional + fee, Available: l.cash}
		}
		l.cash -= notional + fee
	} else {
		// Short entries debit only the fee; no margin is modeled.
		l.cash -= fee
	}

	now := l.nowFunc()
	entry := Entry{Level: sig.Level, Contracts: 1, Price: fill, Fee: fee, Time: now}
	if l.pos == nil {
		l.pos = &Position{Side: sig.Side, OpenedAt: now}
	}
	l.pos.Entries = append(l.pos.Entries, entry)
	l.pos.Contracts += entry.Contracts
	l.pos.Size = float64(l.pos.Contracts) * l.cfg.ContractSize
	l.pos.EntryFees += fee

	// Size-weighted mean over all fills.
	var weighted, totalSize float64
	for _, en := range l.pos.Entries {
		sz := float64(en.Contracts) * l.cfg.ContractSize
		weighted += en.Price * sz
		totalSize += sz
	}
	l.pos.AvgEntryPrice = weighted / totalSize

	l.history = append(l.history, TradeRecord{
		Time:      now,
		Action:    sig.Action,
		Side:      sig.Side,
		Level:     sig.Level,
		Price:     fill,
		Contracts: entry.Contracts,
		Size:      float64(entry.Contracts) * l.cfg.ContractSize,
		Fee:       fee,
		Deviation: deviationPct,
		Reason:    sig.Reason,
	})
	return l.pos, nil
}

// ClosePosition exits the whole position at the given price, again with
// adverse slippage, and converts it into a closed trade record.
func (l *Ledger) ClosePosition(sig types.Signal, price, deviationPct float64) (*TradeRecord, error) {
	if l.pos == nil {
		return nil, ErrNoPosition
	}
	pos := l.pos

	var fill float64
	if pos.Side == types.SideLong {
		fill = price * (1 - l.cfg.SlippageRate)
	} else {
		fill = price * (1 + l.cfg.SlippageRate)
	}
	exitNotional := fill * pos.Size
	exitFee := exitNotional * l.cfg.FeeRate

	var gross float64
	if pos.Side == types.SideLong {
		gross = (fill - pos.AvgEntryPrice) * pos.Size
	} else {
		gross = (pos.AvgEntryPrice - fill) * pos.Size
	}
	net := gross - pos.EntryFees - exitFee

	if pos.Side == types.SideLong {
		l.cash += exitNotional - exitFee
	} else {
		// The simplified no-margin model returns the entry notional the
		// short never posted; realized P&L carries the true result.
		l.cash += pos.AvgEntryPrice*pos.Size - exitFee
	}
	l.realized += net

	rec := TradeRecord{
		Time:      l.nowFunc(),
		Action:    types.ActionClose,
		Side:      pos.Side,
		Exit:      sig.Exit,
		Price:     fill,
		Contracts: pos.Contracts,
		Size:      pos.Size,
		Fee:       exitFee,
		GrossPnL:  gross,
		NetPnL:    net,
		Deviation: deviationPct,
		Reason:    sig.Reason,
	}
	l.history = append(l.history, rec)
	l.pos = nil
	return &rec, nil
}

// UpdatePosition marks the open position to the given price without
// charging anything. The estimated exit fee uses the slipped exit fill
// the close would see. Safe to call with no position.
func (l *Ledger) UpdatePosition(price, deviationPct float64) View {
	v := View{
		MarkPrice:   price,
		Deviation:   deviationPct,
		Cash:        l.cash,
		Equity:      l.cash,
		RealizedPnL: l.realized,
	}
	if l.pos == nil {
		return v
	}
	pos := *l.pos
	v.Position = &pos
	v.EntryFees = pos.EntryFees

	var fill float64
	if pos.Side == types.SideLong {
		fill = price * (1 - l.cfg.SlippageRate)
	} else {
		fill = price * (1 + l.cfg.SlippageRate)
	}
	v.EstimatedExitFee = fill * pos.Size * l.cfg.FeeRate

	if pos.Side == types.SideLong {
		v.UnrealizedGross = (fill - pos.AvgEntryPrice) * pos.Size
		v.PositionValue = price * pos.Size
	} else {
		v.UnrealizedGross = (pos.AvgEntryPrice - fill) * pos.Size
		v.PositionValue = pos.AvgEntryPrice*pos.Size + v.UnrealizedGross
	}
	v.UnrealizedNet = v.UnrealizedGross - pos.EntryFees - v.EstimatedExitFee
	v.Equity = l.cash + v.PositionValue
	return v
}

// Performance aggregates the closed trades in the history.
func (l *Ledger) Performance() Performance {
	p := Performance{Trades: len(l.history)}
	for _, rec := range l.history {
		if rec.Action != types.ActionClose {
			continue
		}
		p.Closed++
		p.RealizedPnL += rec.NetPnL
		if rec.NetPnL > 0 {
			p.Wins++
		} else {
			p.Losses++
		}
	}
	if p.Closed > 0 {
		p.WinRate = float64(p.Wins) / float64(p.Closed) * 100
	}
	if l.cfg.StartingCash > 0 {
		p.ReturnPct = p.RealizedPnL / l.cfg.StartingCash * 100
	}
	return p
}
