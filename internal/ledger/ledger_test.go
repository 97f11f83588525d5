package ledger

import (
	"errors"
	"math"
	"testing"

	"vwap-trader/internal/types"
)

func enterSignal(side types.Side, level types.Level) types.Signal {
	return types.Signal{Action: types.ActionEnter, Side: side, Level: level}
}

func closeSignal(exit types.ExitType) types.Signal {
	return types.Signal{Action: types.ActionClose, Exit: exit}
}

func TestLongRoundTripPnL(t *testing.T) {
	l := New(Config{StartingCash: 10000})

	if _, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -1.0); err != nil {
		t.Fatal(err)
	}
	rec, err := l.ClosePosition(closeSignal(types.ExitTakeProfit), 91000, 0.05)
	if err != nil {
		t.Fatal(err)
	}

	entryFill := 90000 * 1.0005
	exitFill := 91000 * 0.9995
	entryFee := entryFill * 0.01 * 0.00065
	exitFee := exitFill * 0.01 * 0.00065
	want := 0.01*(exitFill-entryFill) - entryFee - exitFee

	if math.Abs(rec.NetPnL-want) > 1e-9 {
		t.Fatalf("net PnL %.9f, want %.9f", rec.NetPnL, want)
	}
	if l.Position() != nil {
		t.Fatal("expected position cleared after close")
	}
	// Cash round-trips to starting balance plus net PnL.
	if math.Abs(l.Cash()-(10000+want)) > 1e-9 {
		t.Fatalf("cash %.9f, want %.9f", l.Cash(), 10000+want)
	}
}

func TestAddRecomputesWeightedAverage(t *testing.T) {
	l := New(Config{})

	if _, err := l.EnterPosition(enterSignal(types.SideShort, types.LevelShort1), 100000, 0.7); err != nil {
		t.Fatal(err)
	}
	pos, err := l.EnterPosition(types.Signal{Action: types.ActionAdd, Side: types.SideShort, Level: types.LevelShort2}, 101000, 0.9)
	if err != nil {
		t.Fatal(err)
	}

	if pos.Contracts != 2 || len(pos.Entries) != 2 {
		t.Fatalf("expected 2 contracts and 2 entries, got %d/%d", pos.Contracts, len(pos.Entries))
	}
	fill1 := 100000 * 0.9995
	fill2 := 101000 * 0.9995
	want := (fill1 + fill2) / 2
	if math.Abs(pos.AvgEntryPrice-want) > 1e-9 {
		t.Fatalf("avg entry %.9f, want %.9f", pos.AvgEntryPrice, want)
	}
	if math.Abs(pos.Size-0.02) > 1e-12 {
		t.Fatalf("expected size 0.02, got %f", pos.Size)
	}
}

func TestInsufficientFundsRejectsLongEntry(t *testing.T) {
	l := New(Config{StartingCash: 100})
	cashBefore := l.Cash()

	_, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -1.0)

	var insufficient *InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Available != 100 {
		t.Fatalf("expected available 100, got %f", insufficient.Available)
	}
	if insufficient.Required <= 900 {
		t.Fatalf("expected required around notional+fee, got %f", insufficient.Required)
	}
	if l.Cash() != cashBefore || l.Position() != nil || len(l.History()) != 0 {
		t.Fatal("rejected entry must not mutate state")
	}
}

func TestShortEntryDebitsOnlyFee(t *testing.T) {
	l := New(Config{StartingCash: 1000})

	pos, err := l.EnterPosition(enterSignal(types.SideShort, types.LevelShort1), 90000, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	fill := 90000 * 0.9995
	fee := fill * 0.01 * 0.00065
	if math.Abs(l.Cash()-(1000-fee)) > 1e-9 {
		t.Fatalf("expected only fee debited, cash %f", l.Cash())
	}
	if pos.Side != types.SideShort || pos.Contracts != 1 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestCloseWithoutPosition(t *testing.T) {
	l := New(Config{})
	if _, err := l.ClosePosition(closeSignal(types.ExitManual), 90000, 0); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
	if len(l.History()) != 0 {
		t.Fatal("failed close must not append history")
	}
}

func TestSideMismatchRejected(t *testing.T) {
	l := New(Config{})
	if _, err := l.EnterPosition(enterSignal(types.SideShort, types.LevelShort1), 90000, 0.7); err != nil {
		t.Fatal(err)
	}
	if _, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -0.8); err == nil {
		t.Fatal("expected mismatched side to be rejected")
	}
}

func TestUpdatePositionNoPosition(t *testing.T) {
	l := New(Config{StartingCash: 5000})

	v := l.UpdatePosition(90000, 0.5)
	if v.Position != nil {
		t.Fatal("expected nil position")
	}
	if v.Cash != 5000 || v.Equity != 5000 {
		t.Fatalf("expected cash and equity 5000, got %f/%f", v.Cash, v.Equity)
	}
	if v.UnrealizedGross != 0 || v.UnrealizedNet != 0 || v.EstimatedExitFee != 0 {
		t.Fatal("expected zero unrealized fields with no position")
	}
}

func TestUpdatePositionDoesNotMutate(t *testing.T) {
	l := New(Config{})
	if _, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -1.0); err != nil {
		t.Fatal(err)
	}
	cashBefore := l.Cash()
	feesBefore := l.Position().EntryFees

	v1 := l.UpdatePosition(91000, 0.1)
	v2 := l.UpdatePosition(91000, 0.1)

	if l.Cash() != cashBefore || l.Position().EntryFees != feesBefore {
		t.Fatal("UpdatePosition mutated ledger state")
	}
	if v1.UnrealizedNet != v2.UnrealizedNet {
		t.Fatal("repeated marks diverged")
	}
	if v1.UnrealizedNet >= v1.UnrealizedGross {
		t.Fatal("net must be below gross by the fee estimate")
	}
	if v1.Equity != v1.Cash+v1.PositionValue {
		t.Fatal("equity must be cash plus position value")
	}
}

func TestPerformanceAggregation(t *testing.T) {
	l := New(Config{StartingCash: 10000})

	// Winning long round trip.
	if _, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ClosePosition(closeSignal(types.ExitTakeProfit), 95000, 0.05); err != nil {
		t.Fatal(err)
	}
	// Losing long round trip.
	if _, err := l.EnterPosition(enterSignal(types.SideLong, types.LevelLong1), 90000, -1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ClosePosition(closeSignal(types.ExitStopLoss), 88000, -2.5); err != nil {
		t.Fatal(err)
	}

	p := l.Performance()
	if p.Trades != 4 {
		t.Fatalf("expected 4 history rows, got %d", p.Trades)
	}
	if p.Closed != 2 || p.Wins != 1 || p.Losses != 1 {
		t.Fatalf("expected 2 closed, 1 win, 1 loss: %+v", p)
	}
	if p.WinRate != 50 {
		t.Fatalf("expected 50%% win rate, got %f", p.WinRate)
	}
	wantReturn := p.RealizedPnL / 10000 * 100
	if math.Abs(p.ReturnPct-wantReturn) > 1e-12 {
		t.Fatalf("return %f, want %f", p.ReturnPct, wantReturn)
	}
}

func TestPerformanceEmpty(t *testing.T) {
	l := New(Config{})
	p := l.Performance()
	if p.Trades != 0 || p.Closed != 0 || p.WinRate != 0 || p.RealizedPnL != 0 {
		t.Fatalf("expected zero performance, got %+v", p)
	}
}

func TestHistoryIsAppendOnlyCopy(t *testing.T) {
	l := New(Config{})
	if _, err := l.EnterPosition(enterSignal(types.SideShort, types.LevelShort1), 90000, 0.7); err != nil {
		t.Fatal(err)
	}
	h := l.History()
	h[0].Price = -1

	if l.History()[0].Price == -1 {
		t.Fatal("History must return a copy")
	}
}
