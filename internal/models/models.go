package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a tradable instrument as known to the market-data provider.
// The ID is the provider's stable identifier; the symbol is short and
// not guaranteed unique, so it is disambiguated before use.
type Asset struct {
	ID     string `db:"id" json:"id"`
	Symbol string `db:"symbol" json:"symbol"`
	Name   string `db:"name" json:"name"`
}

// PricePoint is one day of an asset's historical series. At most one
// point exists per asset per calendar day; Date carries no intraday
// component.
type PricePoint struct {
	AssetID     string          `db:"asset_id" json:"asset_id"`
	Date        time.Time       `db:"date" json:"date"`
	Price       decimal.Decimal `db:"price" json:"price"`
	MarketCap   decimal.Decimal `db:"market_cap" json:"market_cap"`
	TotalVolume decimal.Decimal `db:"total_volume" json:"total_volume"`
}

// MarketSnapshot is a full current-market row for one asset. The whole
// snapshot table is replaced on every sync, so there is no partial
// update path. Missing numeric fields from the provider are stored as
// 0 rather than NULL; ROI stays nullable because the provider models
// its absence explicitly.
type MarketSnapshot struct {
	AssetID               string          `db:"asset_id" json:"asset_id"`
	Symbol                string          `db:"symbol" json:"symbol"`
	Name                  string          `db:"name" json:"name"`
	Image                 string          `db:"image" json:"image"`
	MarketCapRank         int             `db:"market_cap_rank" json:"market_cap_rank"`
	CurrentPrice          decimal.Decimal `db:"current_price" json:"current_price"`
	MarketCap             float64         `db:"market_cap" json:"market_cap"`
	FullyDilutedValuation float64         `db:"fully_diluted_valuation" json:"fully_diluted_valuation"`
	TotalVolume           float64         `db:"total_volume" json:"total_volume"`
	High24h               float64         `db:"high_24h" json:"high_24h"`
	Low24h                float64         `db:"low_24h" json:"low_24h"`
	PriceChange24h        float64         `db:"price_change_24h" json:"price_change_24h"`
	PriceChangePct24h     float64         `db:"price_change_percentage_24h" json:"price_change_percentage_24h"`
	MarketCapChange24h    float64         `db:"market_cap_change_24h" json:"market_cap_change_24h"`
	MarketCapChangePct24h float64         `db:"market_cap_change_percentage_24h" json:"market_cap_change_percentage_24h"`
	CirculatingSupply     float64         `db:"circulating_supply" json:"circulating_supply"`
	TotalSupply           float64         `db:"total_supply" json:"total_supply"`
	MaxSupply             float64         `db:"max_supply" json:"max_supply"`
	ATH                   float64         `db:"ath" json:"ath"`
	ATHChangePct          float64         `db:"ath_change_percentage" json:"ath_change_percentage"`
	ATHDate               *time.Time      `db:"ath_date" json:"ath_date"`
	ATL                   float64         `db:"atl" json:"atl"`
	ATLChangePct          float64         `db:"atl_change_percentage" json:"atl_change_percentage"`
	ATLDate               *time.Time      `db:"atl_date" json:"atl_date"`
	ROI                   *float64        `db:"roi" json:"roi"`
	LastUpdated           *time.Time      `db:"last_updated" json:"last_updated"`
	PriceChangePct1h      float64         `db:"price_change_percentage_1h" json:"price_change_percentage_1h"`
	PriceChangePct7d      float64         `db:"price_change_percentage_7d" json:"price_change_percentage_7d"`
	PriceChangePct14d     float64         `db:"price_change_percentage_14d" json:"price_change_percentage_14d"`
	PriceChangePct30d     float64         `db:"price_change_percentage_30d" json:"price_change_percentage_30d"`
	PriceChangePct200d    float64         `db:"price_change_percentage_200d" json:"price_change_percentage_200d"`
	PriceChangePct1y      float64         `db:"price_change_percentage_1y" json:"price_change_percentage_1y"`
}

// LedgerEntry is an immutable transaction record. Either leg may be
// absent; a swap carries both. This pipeline only ever reads the
// ledger.
type LedgerEntry struct {
	ID                int64            `db:"id" json:"id"`
	Date              time.Time        `db:"date" json:"date"`
	SentSymbol        *string          `db:"sent_symbol" json:"sent_symbol"`
	SentQuantity      *decimal.Decimal `db:"sent_quantity" json:"sent_quantity"`
	SentCostBasis     *decimal.Decimal `db:"sent_cost_basis" json:"sent_cost_basis"`
	ReceivedSymbol    *string          `db:"received_symbol" json:"received_symbol"`
	ReceivedQuantity  *decimal.Decimal `db:"received_quantity" json:"received_quantity"`
	ReceivedCostBasis *decimal.Decimal `db:"received_cost_basis" json:"received_cost_basis"`
}

// Position is a net holding derived from the ledger as of a cutoff
// date. AssetID is empty when the symbol has no resolved mapping yet;
// such positions value to zero until the catalog sync catches up.
type Position struct {
	Symbol    string          `db:"symbol" json:"symbol"`
	AssetID   string          `db:"asset_id" json:"asset_id"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	CostBasis decimal.Decimal `db:"cost_basis" json:"cost_basis"`
}

// HoldingSnapshot is a priced position for one asset on one date.
type HoldingSnapshot struct {
	AssetID   string          `db:"asset_id" json:"asset_id"`
	Symbol    string          `db:"symbol" json:"symbol"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	Value     decimal.Decimal `db:"value" json:"value"`
	CostBasis decimal.Decimal `db:"cost_basis" json:"cost_basis"`
}

// SeriesPoint is one row of an aggregate output series.
type SeriesPoint struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}
