package dataflows

import (
	"context"
	"errors"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
)

// ErrNoData is returned by a source that answered but had nothing for the requested date.
var ErrNoData = errors.New("dataflows: no data for date")

// LiveSource queries full-market activity statistics for a trading day.
type LiveSource interface {
	MarketActivity(ctx context.Context, date time.Time) (*models.MarketSnapshot, error)
}

// IndexSource returns daily returns of benchmark indices.
type IndexSource interface {
	IndexReturns(ctx context.Context, date time.Time) ([]models.IndexReturn, error)
}

// DateKey formats a trading day the way caches and query strings expect it.
func DateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
