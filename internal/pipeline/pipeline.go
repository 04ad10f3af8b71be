// Package pipeline runs the full historical valuation pipeline.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cryptofolio/internal/coingecko"
	"cryptofolio/internal/marketdata"
	"cryptofolio/internal/models"
	"cryptofolio/internal/portfolio"
	"cryptofolio/internal/resolve"
)

// Store is the catalog surface the pipeline needs directly.
type Store interface {
	ReplaceCatalog(ctx context.Context, assets []models.Asset) error
}

// Pipeline wires catalog refresh, symbol resolution, market data
// synchronization, portfolio reconstruction and series rollup into one
// run. Data-availability failures are logged and skipped; storage
// failures stop the run.
type Pipeline struct {
	client      *coingecko.Client
	store       Store
	sync        *marketdata.Synchronizer
	resolver    *resolve.Resolver
	engine      *portfolio.Engine
	log         *logrus.Logger
	historyDays int
}

func New(client *coingecko.Client, store Store, sync *marketdata.Synchronizer,
	resolver *resolve.Resolver, engine *portfolio.Engine, log *logrus.Logger, historyDays int) *Pipeline {
	if historyDays <= 0 {
		historyDays = marketdata.DefaultHistoryDays
	}
	return &Pipeline{
		client:      client,
		store:       store,
		sync:        sync,
		resolver:    resolver,
		engine:      engine,
		log:         log,
		historyDays: historyDays,
	}
}

func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("valuation pipeline starting")

	assets, err := p.client.List(ctx)
	if err != nil {
		p.log.Errorf("catalog fetch failed, keeping previous catalog: %v", err)
	} else if err := p.store.ReplaceCatalog(ctx, assets); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}

	held, err := p.resolver.ResolveLedgerSymbols(ctx)
	if err != nil {
		return fmt.Errorf("resolve ledger symbols: %w", err)
	}
	ids := make([]string, 0, len(held))
	for _, a := range held {
		ids = append(ids, a.ID)
	}

	if err := p.sync.SyncCurrent(ctx, ids); err != nil {
		if !marketdata.IsProviderFailure(err) {
			return err
		}
		p.log.Errorf("market snapshot sync failed: %v", err)
	}

	if err := p.sync.SyncAllHistory(ctx, held, p.historyDays); err != nil {
		return err
	}

	dates := portfolio.DateRange(time.Now().UTC(), p.historyDays)
	if err := p.engine.PopulatePortfolio(ctx, dates); err != nil {
		return err
	}
	if err := p.engine.Rollup(ctx); err != nil {
		return err
	}

	p.log.Info("valuation pipeline finished")
	return nil
}
