package types

// Bar is a fixed-interval OHLCV aggregate keyed by its interval start
// (unix seconds). The same start may arrive multiple times while the
// interval is still open; the last write wins.
type Bar struct {
	Start  int64   `json:"start"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TypicalPrice is the price used for VWAP weighting.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// PriceVolume is the bar's contribution to the VWAP numerator.
func (b Bar) PriceVolume() float64 {
	return b.TypicalPrice() * b.Volume
}

// Tick is an informational price update between bar closes.
type Tick struct {
	Price float64 `json:"price"`
	Time  int64   `json:"time"`
}

type Action string

const (
	ActionNone  Action = "none"
	ActionEnter Action = "enter"
	ActionAdd   Action = "add"
	ActionClose Action = "close"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type Level string

const (
	LevelLong1  Level = "Long1"
	LevelLong2  Level = "Long2"
	LevelShort1 Level = "Short1"
	LevelShort2 Level = "Short2"
)

type ExitType string

const (
	ExitStopLoss   ExitType = "stop_loss"
	ExitTakeProfit ExitType = "take_profit"
	ExitManual     ExitType = "manual"
)

// Signal is the decision engine's verdict for one snapshot. Side, Level
// and Exit are only meaningful for the actions that carry them.
type Signal struct {
	Action Action   `json:"action"`
	Side   Side     `json:"side,omitempty"`
	Level  Level    `json:"level,omitempty"`
	Exit   ExitType `json:"exit_type,omitempty"`
	Reason string   `json:"reason"`
}

// None builds a no-action signal with an explanatory reason.
func None(reason string) Signal {
	return Signal{Action: ActionNone, Reason: reason}
}
