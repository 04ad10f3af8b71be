// Package portfolio reconstructs and values holdings from the ledger.
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptofolio/internal/models"
)

// Store is the persistence surface the engine reads prices and ledger
// aggregates from and writes portfolio rows to.
type Store interface {
	NetPositions(ctx context.Context, cutoff time.Time) ([]models.Position, error)
	SnapshotPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error)
	HistoricalPrice(ctx context.Context, assetID string, date time.Time) (decimal.Decimal, bool, error)
	ReplacePortfolioDay(ctx context.Context, date time.Time, rows []models.HoldingSnapshot) error
	RollupValue(ctx context.Context) error
	RollupCostBasis(ctx context.Context) error
}

type Engine struct {
	store Store
	log   *logrus.Logger
	now   func() time.Time
}

type Option func(*Engine)

// WithClock pins "today" for the valuation router. Tests use it.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(store Store, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DateOnly normalizes a timestamp to midnight UTC. Every price and
// portfolio key goes through this before lookup or upsert.
func DateOnly(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// DateRange returns the days trailing calendar days ending at (and
// including) end.
func DateRange(end time.Time, days int) []time.Time {
	last := DateOnly(end)
	dates := make([]time.Time, 0, days)
	for i := days - 1; i >= 0; i-- {
		dates = append(dates, last.AddDate(0, 0, -i))
	}
	return dates
}

// NetPositions aggregates the ledger up to and including the cutoff
// date. Leg application is commutative, so entry order never matters.
func (e *Engine) NetPositions(ctx context.Context, cutoff time.Time) ([]models.Position, error) {
	return e.store.NetPositions(ctx, DateOnly(cutoff))
}

// ValueOf routes a (asset, quantity, date) triple to a price source:
// today's date reads the live snapshot, anything else reads the
// historical series. A missing price means "unpriced", never an
// error, so one unsynchronized asset cannot abort a multi-date run.
func (e *Engine) ValueOf(ctx context.Context, assetID string, quantity decimal.Decimal, date time.Time) (decimal.Decimal, error) {
	if assetID == "" {
		e.log.Warnf("asset without mapping, valuing as zero")
		return decimal.Zero, nil
	}
	day := DateOnly(date)

	var (
		price decimal.Decimal
		found bool
		err   error
	)
	if day.Equal(DateOnly(e.now())) {
		price, found, err = e.store.SnapshotPrice(ctx, assetID)
	} else {
		price, found, err = e.store.HistoricalPrice(ctx, assetID, day)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("price lookup for %s: %w", assetID, err)
	}
	if !found {
		e.log.Warnf("no price for %s on %s, valuing as zero", assetID, day.Format("2006-01-02"))
		return decimal.Zero, nil
	}
	return price.Mul(quantity), nil
}

// SnapshotAt reconstructs the priced portfolio for one date, keyed by
// symbol. Positions that value to zero are dropped: value is the
// final gate even when quantity and cost basis clear the ledger
// filter. An empty result is not an error.
func (e *Engine) SnapshotAt(ctx context.Context, date time.Time) (map[string]models.HoldingSnapshot, error) {
	day := DateOnly(date)
	positions, err := e.NetPositions(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger at %s: %w", day.Format("2006-01-02"), err)
	}

	out := map[string]models.HoldingSnapshot{}
	for _, p := range positions {
		value, err := e.ValueOf(ctx, p.AssetID, p.Quantity, day)
		if err != nil {
			return nil, err
		}
		if value.Sign() <= 0 {
			continue
		}
		out[p.Symbol] = models.HoldingSnapshot{
			AssetID:   p.AssetID,
			Symbol:    p.Symbol,
			Quantity:  p.Quantity,
			Value:     value,
			CostBasis: p.CostBasis,
		}
	}
	return out, nil
}

// PopulatePortfolio recomputes and persists the portfolio for each
// date in order, one commit per date, so a failure partway through
// leaves every earlier date intact and the run resumable at a date
// boundary.
func (e *Engine) PopulatePortfolio(ctx context.Context, dates []time.Time) error {
	for _, date := range dates {
		day := DateOnly(date)
		snap, err := e.SnapshotAt(ctx, day)
		if err != nil {
			return err
		}
		rows := make([]models.HoldingSnapshot, 0, len(snap))
		for _, h := range snap {
			rows = append(rows, h)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

		if err := e.store.ReplacePortfolioDay(ctx, day, rows); err != nil {
			return fmt.Errorf("persist portfolio for %s: %w", day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// Rollup sums the persisted positions into the value and cost-basis
// series. It only reads portfolio rows, so it can be re-run at any
// time to recompute aggregates after snapshot fixes.
func (e *Engine) Rollup(ctx context.Context) error {
	if err := e.store.RollupValue(ctx); err != nil {
		return fmt.Errorf("rollup value series: %w", err)
	}
	if err := e.store.RollupCostBasis(ctx); err != nil {
		return fmt.Errorf("rollup cost basis series: %w", err)
	}
	return nil
}
