package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"
)

// DefaultYahooIndices are the benchmarks used when none are configured.
var DefaultYahooIndices = []string{"^GSPC", "^IXIC", "^DJI", "^RUT", "000001.SS", "399001.SZ", "^HSI"}

// closeBar is one daily close of an index.
type closeBar struct {
	day   time.Time
	close decimal.Decimal
}

// YahooIndexSource reads daily index closes from Yahoo Finance charts.
type YahooIndexSource struct {
	symbols []string
	fetch   func(symbol string, start, end time.Time) ([]closeBar, error)
}

func NewYahooIndexSource(symbols []string) *YahooIndexSource {
	if len(symbols) == 0 {
		symbols = DefaultYahooIndices
	}
	return &YahooIndexSource{symbols: symbols, fetch: fetchYahooCloses}
}

func fetchYahooCloses(symbol string, start, end time.Time) ([]closeBar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)
	bars := make([]closeBar, 0)
	for iter.Next() {
		bar := iter.Bar()
		bars = append(bars, closeBar{
			day:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			close: bar.Close,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	return bars, nil
}

func (s *YahooIndexSource) IndexReturns(ctx context.Context, date time.Time) ([]models.IndexReturn, error) {
	start := date.AddDate(0, 0, -10)
	end := date.AddDate(0, 0, 1)

	var errs []error
	out := make([]models.IndexReturn, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := s.fetch(symbol, start, end)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r, ok := lastReturn(symbol, date, bars); ok {
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		errs = append(errs, ErrNoData)
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// lastReturn computes the return of the last bar on or before date against the bar before it.
func lastReturn(symbol string, date time.Time, bars []closeBar) (models.IndexReturn, bool) {
	cutoff := date.AddDate(0, 0, 1)
	var prev, last *closeBar
	for i := range bars {
		if !bars[i].day.Before(cutoff) {
			break
		}
		prev, last = last, &bars[i]
	}
	if prev == nil || last == nil {
		return models.IndexReturn{}, false
	}

	pct, ok := dailyReturn(prev.close, last.close)
	if !ok {
		return models.IndexReturn{}, false
	}
	return models.IndexReturn{Symbol: symbol, Date: last.day, ReturnPct: pct}, true
}
