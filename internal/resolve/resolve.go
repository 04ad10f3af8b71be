// Package resolve maps ledger symbols to provider asset identifiers.
package resolve

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"cryptofolio/internal/models"
)

// Catalog is the storage surface resolution works against.
type Catalog interface {
	GetAssetMapping(ctx context.Context, symbol string) (string, bool, error)
	PutAssetMapping(ctx context.Context, symbol, assetID string) error
	CandidatesForSymbol(ctx context.Context, symbol string) ([]models.Asset, error)
	LedgerSymbols(ctx context.Context) ([]string, error)
}

// Resolver resolves symbols without any interactive step: a cached
// mapping wins, then a configured override, then a unique catalog
// candidate. Ambiguous symbols with no override are skipped with a
// warning rather than prompting.
type Resolver struct {
	catalog   Catalog
	log       *logrus.Logger
	overrides map[string]string
}

func New(catalog Catalog, log *logrus.Logger, overrides map[string]string) *Resolver {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &Resolver{catalog: catalog, log: log, overrides: overrides}
}

// ParseOverrides parses a "btc=bitcoin,eth=ethereum" style string.
// Malformed pairs are dropped.
func ParseOverrides(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return out
}

// Resolve returns the asset for a symbol, caching the result. The
// second return is false when the symbol cannot be resolved; that is
// not an error.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (models.Asset, bool, error) {
	symbol = strings.ToLower(symbol)

	if id, ok, err := r.catalog.GetAssetMapping(ctx, symbol); err != nil {
		return models.Asset{}, false, err
	} else if ok {
		return models.Asset{ID: id, Symbol: symbol}, true, nil
	}

	if id, ok := r.overrides[symbol]; ok {
		if err := r.catalog.PutAssetMapping(ctx, symbol, id); err != nil {
			return models.Asset{}, false, err
		}
		r.log.Infof("symbol %q resolved to %q via configured override", symbol, id)
		return models.Asset{ID: id, Symbol: symbol}, true, nil
	}

	candidates, err := r.catalog.CandidatesForSymbol(ctx, symbol)
	if err != nil {
		return models.Asset{}, false, err
	}
	switch len(candidates) {
	case 0:
		r.log.Warnf("no catalog entry for symbol %q, skipping", symbol)
		return models.Asset{}, false, nil
	case 1:
		if err := r.catalog.PutAssetMapping(ctx, symbol, candidates[0].ID); err != nil {
			return models.Asset{}, false, err
		}
		return candidates[0], true, nil
	default:
		r.log.Warnf("symbol %q is ambiguous (%d candidates) and has no configured override, skipping",
			symbol, len(candidates))
		return models.Asset{}, false, nil
	}
}

// ResolveLedgerSymbols resolves every distinct symbol the ledger has
// received and returns the resolvable ones.
func (r *Resolver) ResolveLedgerSymbols(ctx context.Context) ([]models.Asset, error) {
	symbols, err := r.catalog.LedgerSymbols(ctx)
	if err != nil {
		return nil, err
	}
	assets := make([]models.Asset, 0, len(symbols))
	for _, symbol := range symbols {
		asset, ok, err := r.Resolve(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if ok {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}
