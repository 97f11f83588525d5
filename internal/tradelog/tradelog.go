package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vwap-trader/internal/ledger"
	"vwap-trader/internal/types"
)

var mu sync.Mutex

// FillEntry is one simulated fill, appended to the daily fills file.
type FillEntry struct {
	Time      string         `json:"time"`
	Product   string         `json:"product"`
	Action    types.Action   `json:"action"`
	Side      types.Side     `json:"side"`
	Level     types.Level    `json:"level,omitempty"`
	Exit      types.ExitType `json:"exit_type,omitempty"`
	Price     float64        `json:"price"`
	Contracts int            `json:"contracts"`
	Fee       float64        `json:"fee"`
	NetPnL    float64        `json:"net_pnl,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// SignalEntry is one strategy decision, appended to the daily signals
// file regardless of whether it produced a fill.
type SignalEntry struct {
	Time         string       `json:"time"`
	Product      string       `json:"product"`
	Action       types.Action `json:"action"`
	Reason       string       `json:"reason"`
	Price        float64      `json:"price"`
	DeviationPct float64      `json:"deviation_pct"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func fillsFilepath(t time.Time) string {
	return filepath.Join(logDir(), t.UTC().Format("2006-01-02")+".txt")
}

func signalsFilepath(t time.Time) string {
	return filepath.Join(logDir(), "signals", t.UTC().Format("2006-01-02")+".txt")
}

// AppendFill records a fill derived from a ledger trade record.
func AppendFill(product string, rec ledger.TradeRecord) error {
	e := FillEntry{
		Product:   product,
		Action:    rec.Action,
		Side:      rec.Side,
		Level:     rec.Level,
		Exit:      rec.Exit,
		Price:     rec.Price,
		Contracts: rec.Contracts,
		Fee:       rec.Fee,
		NetPnL:    rec.NetPnL,
		Reason:    rec.Reason,
	}
	e.Time = time.Now().UTC().Format("2006-01-02 15:04:05")
	return appendLine(fillsFilepath(time.Now()), e)
}

// AppendSignal records a strategy decision.
func AppendSignal(e SignalEntry) error {
	e.Time = time.Now().UTC().Format("2006-01-02 15:04:05")
	return appendLine(signalsFilepath(time.Now()), e)
}

func appendLine(path string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips daily files older than the retention window and
// removes the originals.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}
		in, e3 := os.Open(p)
		if e3 != nil {
			return nil
		}
		defer in.Close()
		out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if e4 != nil {
			return nil
		}
		gw := gzip.NewWriter(out)
		if _, e5 := io.Copy(gw, in); e5 == nil {
			_ = gw.Close()
			_ = out.Close()
			_ = os.Remove(p)
		} else {
			_ = gw.Close()
			_ = out.Close()
		}
		return nil
	})
}
