package feed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"vwap-trader/internal/api"
	"vwap-trader/internal/logger"
	"vwap-trader/internal/types"
)

// maxCandlesPerPage is the exchange's page-size bound on the candle
// endpoint; ranges wider than one page are fetched in chunks.
const maxCandlesPerPage = 300

// REST fetches historical candles and spot tickers from the Coinbase
// Exchange market-data API. All endpoints used here are public.
type REST struct {
	client      *api.Client
	product     string
	granularity int // candle interval in seconds
}

func NewREST(baseURL, product string, granularitySeconds int) *REST {
	return &REST{
		client: api.NewClient(
			api.WithBaseURL(baseURL),
			api.WithTimeout(15*time.Second),
			api.WithHeader("User-Agent", "vwap-trader/1.0"),
		),
		product:     product,
		granularity: granularitySeconds,
	}
}

// candleRow is the wire shape: [time, low, high, open, close, volume].
type candleRow [6]float64

func (r candleRow) bar() types.Bar {
	return types.Bar{
		Start:  int64(r[0]),
		Low:    r[1],
		High:   r[2],
		Open:   r[3],
		Close:  r[4],
		Volume: r[5],
	}
}

// Candles fetches one page of candles covering [start, end).
func (r *REST) Candles(ctx context.Context, start, end time.Time) ([]types.Bar, error) {
	path := fmt.Sprintf("/products/%s/candles?granularity=%d&start=%s&end=%s",
		r.product, r.granularity,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	var rows []candleRow
	if err := r.client.GetJSON(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	bars := make([]types.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, row.bar())
	}
	return bars, nil
}

// CandleRange fetches an arbitrary span in page-sized chunks and returns
// the bars sorted ascending by start.
func (r *REST) CandleRange(ctx context.Context, start, end time.Time) ([]types.Bar, error) {
	op := logger.StartOperation(ctx, "feed.candle_range")
	pageSpan := time.Duration(r.granularity*maxCandlesPerPage) * time.Second

	seen := make(map[int64]types.Bar)
	for cursor := start; cursor.Before(end); cursor = cursor.Add(pageSpan) {
		pageEnd := cursor.Add(pageSpan)
		if pageEnd.After(end) {
			pageEnd = end
		}
		page, err := r.Candles(ctx, cursor, pageEnd)
		if err != nil {
			op.EndWithError(err)
			return nil, err
		}
		for _, b := range page {
			seen[b.Start] = b
		}
	}

	bars := make([]types.Bar, 0, len(seen))
	for _, b := range seen {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start < bars[j].Start })
	op.End("bars", len(bars))
	return bars, nil
}

type tickerResponse struct {
	Price string `json:"price"`
	Time  string `json:"time"`
}

// Ticker fetches the current spot price.
func (r *REST) Ticker(ctx context.Context) (types.Tick, error) {
	var resp tickerResponse
	if err := r.client.GetJSON(ctx, "/products/"+r.product+"/ticker", &resp); err != nil {
		return types.Tick{}, fmt.Errorf("fetch ticker: %w", err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("parse ticker price %q: %w", resp.Price, err)
	}
	ts := time.Now().Unix()
	if t, err := time.Parse(time.RFC3339, resp.Time); err == nil {
		ts = t.Unix()
	}
	return types.Tick{Price: price, Time: ts}, nil
}
