package tradelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vwap-trader/internal/ledger"
	"vwap-trader/internal/types"
)

func TestAppendFillWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	rec := ledger.TradeRecord{
		Action:    types.ActionEnter,
		Side:      types.SideShort,
		Level:     types.LevelShort1,
		Price:     90000,
		Contracts: 1,
		Fee:       0.585,
		Reason:    "test",
	}
	if err := AppendFill("BTC-USD", rec); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".txt")
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	var e FillEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(b))), &e); err != nil {
		t.Fatal(err)
	}
	if e.Product != "BTC-USD" || e.Side != types.SideShort || e.Price != 90000 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Time == "" {
		t.Fatal("expected timestamp set")
	}
}

func TestAppendSignalWritesUnderSignalsDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	err := AppendSignal(SignalEntry{
		Product:      "BTC-USD",
		Action:       types.ActionNone,
		Reason:       "insufficient deviation history",
		Price:        90000,
		DeviationPct: 0.2,
	})
	if err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(dir, "signals", time.Now().UTC().Format("2006-01-02")+".txt")
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected signals file: %v", err)
	}
}

func TestCompressOlderSkipsFreshFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	p := filepath.Join(dir, "2026-08-01.txt")
	if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CompressOlder(30); err != nil {
		t.Fatal(err)
	}
	// Freshly written file is newer than the cutoff, must survive.
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("fresh file should not be compressed: %v", err)
	}
}
