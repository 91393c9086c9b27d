package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"
)

// DefaultLongportIndices are HK and mainland benchmarks in Longport symbology.
var DefaultLongportIndices = []string{"HSI.HK", "HSCEI.HK", "000001.SH", "399001.SZ", "399006.SZ"}

// LongportIndexSource reads daily index candlesticks through the Longport quote API.
type LongportIndexSource struct {
	quoteCtx *quote.QuoteContext
	symbols  []string
}

func NewLongportIndexSource(appKey, appSecret, accessToken string, symbols []string) (*LongportIndexSource, error) {
	if appKey == "" || appSecret == "" || accessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(appKey, appSecret, accessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	if len(symbols) == 0 {
		symbols = DefaultLongportIndices
	}
	return &LongportIndexSource{quoteCtx: quoteContext, symbols: symbols}, nil
}

func (s *LongportIndexSource) IndexReturns(ctx context.Context, date time.Time) ([]models.IndexReturn, error) {
	if s.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}

	var errs []error
	out := make([]models.IndexReturn, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		sticks, err := s.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, 10, quote.AdjustTypeNo)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("candlesticks %s: %w", symbol, err))
			continue
		}

		bars := make([]closeBar, 0, len(sticks))
		for _, stick := range sticks {
			c, err := decimal.NewFromString(stick.Close.String())
			if err != nil {
				continue
			}
			bars = append(bars, closeBar{day: time.Unix(stick.Timestamp, 0).UTC(), close: c})
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

// MultiIndexSource asks each source in order and returns the first non-empty answer.
type MultiIndexSource []IndexSource

func (m MultiIndexSource) IndexReturns(ctx context.Context, date time.Time) ([]models.IndexReturn, error) {
	var errs []error
	for _, src := range m {
		returns, err := src.IndexReturns(ctx, date)
		if err == nil && len(returns) > 0 {
			return returns, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	errs = append(errs, ErrNoData)
	return nil, errors.Join(errs...)
}
