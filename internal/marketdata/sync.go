// Package marketdata synchronizes provider market data into storage.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptofolio/internal/coingecko"
	"cryptofolio/internal/models"
)

const (
	// DefaultHistoryDays is the trailing window for historical sync.
	DefaultHistoryDays = 365

	// Throttled requests are retried with linearly growing waits:
	// attempt * backoff base, up to maxAttempts total requests.
	defaultBackoffBase = time.Minute
	maxAttempts        = 3
)

// providerError is a per-asset provider failure: a bad status or an
// undecodable payload. Distinct from storage errors so batch sync can
// skip the affected asset and keep going.
type providerError struct {
	err error
}

func (e *providerError) Error() string { return e.err.Error() }

func (e *providerError) Unwrap() error { return e.err }

// IsProviderFailure reports whether err is a provider-side failure
// rather than a storage one.
func IsProviderFailure(err error) bool {
	var e *providerError
	return errors.As(err, &e)
}

// Store is the persistence surface the synchronizer writes to.
type Store interface {
	ReplaceSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error
	UpsertPricePoints(ctx context.Context, points []models.PricePoint) error
}

type Synchronizer struct {
	store       Store
	client      *coingecko.Client
	log         *logrus.Logger
	backoffBase time.Duration
	workers     int
}

type Option func(*Synchronizer)

// WithBackoffBase overrides the throttle backoff unit. Tests shrink it.
func WithBackoffBase(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.backoffBase = d
	}
}

// WithWorkers bounds the history-sync worker pool. The default of 1
// keeps the original serial ordering.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.workers = n
		}
	}
}

func New(store Store, client *coingecko.Client, log *logrus.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:       store,
		client:      client,
		log:         log,
		backoffBase: defaultBackoffBase,
		workers:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncCurrent replaces the whole market snapshot table with one
// batched provider call. An empty id list still clears the table, so
// assets dropped from the ledger do not leave stale snapshots behind.
func (s *Synchronizer) SyncCurrent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return s.store.ReplaceSnapshots(ctx, nil)
	}
	snaps, err := s.client.Markets(ctx, ids)
	if err != nil {
		return &providerError{fmt.Errorf("fetch market snapshot: %w", err)}
	}
	if err := s.store.ReplaceSnapshots(ctx, snaps); err != nil {
		return fmt.Errorf("replace market snapshot: %w", err)
	}
	s.log.Infof("market snapshot replaced with %d assets", len(snaps))
	return nil
}

// SyncHistory pulls one asset's daily series over a trailing window
// and upserts it by calendar date. Throttling is retried with waits of
// backoff*attempt; after the retry ceiling the asset is skipped
// without error so the rest of the batch keeps going. Any other
// provider failure aborts just this asset.
func (s *Synchronizer) SyncHistory(ctx context.Context, asset models.Asset, days int) error {
	if days <= 0 {
		days = DefaultHistoryDays
	}

	var chart *coingecko.Chart
	for attempt := 1; ; attempt++ {
		var err error
		chart, err = s.client.MarketChart(ctx, asset.ID, days)
		if err == nil {
			break
		}
		if !coingecko.IsThrottled(err) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &providerError{fmt.Errorf("fetch history for %s: %w", asset.ID, err)}
		}
		if attempt >= maxAttempts {
			s.log.Warnf("history for %s still throttled after %d attempts, skipping", asset.ID, maxAttempts)
			return nil
		}
		wait := time.Duration(attempt) * s.backoffBase
		s.log.Warnf("throttled fetching history for %s, retrying in %s", asset.ID, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	points := chartPoints(asset.ID, chart)
	if err := s.store.UpsertPricePoints(ctx, points); err != nil {
		return fmt.Errorf("persist history for %s: %w", asset.ID, err)
	}
	s.log.Infof("stored %d price points for %s", len(points), asset.ID)
	return nil
}

// SyncAllHistory syncs every asset through a bounded worker pool.
// Provider failures are logged per asset and never block the others;
// the first storage failure stops the run.
func (s *Synchronizer) SyncAllHistory(ctx context.Context, assets []models.Asset, days int) error {
	jobs := make(chan models.Asset)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range jobs {
				err := s.SyncHistory(ctx, asset, days)
				if err == nil {
					continue
				}
				if IsProviderFailure(err) {
					s.log.Errorf("history sync failed for %s: %v", asset.ID, err)
					continue
				}
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
			}
		}()
	}

	for _, a := range assets {
		mu.Lock()
		stop := fatal != nil
		mu.Unlock()
		if stop {
			break
		}
		jobs <- a
	}
	close(jobs)
	wg.Wait()
	return fatal
}

// chartPoints flattens the provider's parallel arrays into price
// points keyed by calendar date. Intraday timestamps are truncated to
// midnight UTC; when several raw points share a date the upsert makes
// the last one win.
func chartPoints(assetID string, chart *coingecko.Chart) []models.PricePoint {
	points := make([]models.PricePoint, 0, len(chart.Prices))
	for i, p := range chart.Prices {
		point := models.PricePoint{
			AssetID: assetID,
			Date:    time.UnixMilli(int64(p[0])).UTC().Truncate(24 * time.Hour),
			Price:   decimal.NewFromFloat(p[1]),
		}
		if i < len(chart.MarketCaps) {
			point.MarketCap = decimal.NewFromFloat(chart.MarketCaps[i][1])
		}
		if i < len(chart.TotalVolumes) {
			point.TotalVolume = decimal.NewFromFloat(chart.TotalVolumes[i][1])
		}
		points = append(points, point)
	}
	return points
}
