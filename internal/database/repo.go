package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptofolio/internal/models"
)

const dateLayout = "2006-01-02"

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// ReplaceCatalog swaps the full asset catalog in one transaction.
func (r *Repo) ReplaceCatalog(ctx context.Context, assets []models.Asset) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}
	for _, a := range assets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (id, symbol, name) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET symbol = EXCLUDED.symbol, name = EXCLUDED.name`,
			a.ID, a.Symbol, a.Name); err != nil {
			return fmt.Errorf("insert asset %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) CandidatesForSymbol(ctx context.Context, symbol string) ([]models.Asset, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, symbol, name FROM assets WHERE symbol = $1 ORDER BY id`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Asset{}
	for rows.Next() {
		var a models.Asset
		if err := rows.StructScan(&a); err != nil {
			r.log.Warnf("scan asset candidate failed: %v", err)
			continue
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *Repo) GetAssetMapping(ctx context.Context, symbol string) (string, bool, error) {
	var id string
	err := r.db.GetContext(ctx, &id,
		`SELECT asset_id FROM asset_mappings WHERE symbol = $1`, symbol)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *Repo) PutAssetMapping(ctx context.Context, symbol, assetID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO asset_mappings (symbol, asset_id) VALUES ($1, $2)
		 ON CONFLICT (symbol) DO UPDATE SET asset_id = EXCLUDED.asset_id`,
		symbol, assetID)
	return err
}

// LedgerSymbols lists the distinct symbols ever received in the
// ledger. Assets that were only ever sent cannot end up as positive
// holdings, so they are not worth resolving.
func (r *Repo) LedgerSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT DISTINCT LOWER(received_symbol) FROM ledger_entries WHERE received_symbol IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			r.log.Warnf("scan ledger symbol failed: %v", err)
			continue
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReplaceSnapshots performs a destructive refresh of the market
// snapshot table: delete then insert in a single transaction, so
// rows for assets no longer referenced are dropped.
func (r *Repo) ReplaceSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM market_snapshots`); err != nil {
		return fmt.Errorf("clear market snapshots: %w", err)
	}

	const q = `INSERT INTO market_snapshots (
		asset_id, symbol, name, image, market_cap_rank, current_price,
		market_cap, fully_diluted_valuation, total_volume, high_24h, low_24h,
		price_change_24h, price_change_percentage_24h,
		market_cap_change_24h, market_cap_change_percentage_24h,
		circulating_supply, total_supply, max_supply,
		ath, ath_change_percentage, ath_date,
		atl, atl_change_percentage, atl_date,
		roi, last_updated,
		price_change_percentage_1h, price_change_percentage_7d,
		price_change_percentage_14d, price_change_percentage_30d,
		price_change_percentage_200d, price_change_percentage_1y
	) VALUES (
		:asset_id, :symbol, :name, :image, :market_cap_rank, :current_price,
		:market_cap, :fully_diluted_valuation, :total_volume, :high_24h, :low_24h,
		:price_change_24h, :price_change_percentage_24h,
		:market_cap_change_24h, :market_cap_change_percentage_24h,
		:circulating_supply, :total_supply, :max_supply,
		:ath, :ath_change_percentage, :ath_date,
		:atl, :atl_change_percentage, :atl_date,
		:roi, :last_updated,
		:price_change_percentage_1h, :price_change_percentage_7d,
		:price_change_percentage_14d, :price_change_percentage_30d,
		:price_change_percentage_200d, :price_change_percentage_1y
	)`
	for _, s := range snaps {
		if _, err := tx.NamedExecContext(ctx, q, s); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", s.AssetID, err)
		}
	}
	return tx.Commit()
}

// SnapshotPrice returns the live price for an asset, or found=false
// when the asset has no snapshot row.
func (r *Repo) SnapshotPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := r.db.GetContext(ctx, &price,
		`SELECT current_price FROM market_snapshots WHERE asset_id = $1`, assetID)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

// UpsertPricePoints writes one asset's historical series in a single
// transaction. Conflicting (asset_id, date) keys overwrite every
// field, so re-syncing an overlapping window converges instead of
// duplicating, and the last point for a calendar date wins.
func (r *Repo) UpsertPricePoints(ctx context.Context, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price tx: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO price_points (asset_id, date, price, market_cap, total_volume)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (asset_id, date) DO UPDATE SET
			price = EXCLUDED.price,
			market_cap = EXCLUDED.market_cap,
			total_volume = EXCLUDED.total_volume`
	for _, p := range points {
		if _, err := tx.ExecContext(ctx, q,
			p.AssetID, p.Date.Format(dateLayout), p.Price, p.MarketCap, p.TotalVolume); err != nil {
			return fmt.Errorf("upsert price point %s/%s: %w", p.AssetID, p.Date.Format(dateLayout), err)
		}
	}
	return tx.Commit()
}

// HistoricalPrice returns the stored price for (asset, date), or
// found=false when that day was never synchronized.
func (r *Repo) HistoricalPrice(ctx context.Context, assetID string, date time.Time) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := r.db.GetContext(ctx, &price,
		`SELECT price FROM price_points WHERE asset_id = $1 AND date = $2::date`,
		assetID, date.Format(dateLayout))
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

// NetPositions aggregates the ledger up to and including the cutoff
// date: received legs add, sent legs subtract, and each entry may
// carry both. Positions are filtered to net quantity > 0 and net cost
// basis > 1 quote unit; the threshold is a dust filter and is not
// caller-tunable.
func (r *Repo) NetPositions(ctx context.Context, cutoff time.Time) ([]models.Position, error) {
	const q = `
	WITH received AS (
		SELECT LOWER(received_symbol) AS symbol,
		       SUM(received_quantity) AS quantity,
		       SUM(received_cost_basis) AS cost_basis
		FROM ledger_entries
		WHERE date::date <= $1::date AND received_symbol IS NOT NULL
		GROUP BY LOWER(received_symbol)
	),
	sent AS (
		SELECT LOWER(sent_symbol) AS symbol,
		       SUM(sent_quantity) AS quantity,
		       SUM(sent_cost_basis) AS cost_basis
		FROM ledger_entries
		WHERE date::date <= $1::date AND sent_symbol IS NOT NULL
		GROUP BY LOWER(sent_symbol)
	)
	SELECT COALESCE(r.symbol, s.symbol) AS symbol,
	       COALESCE(m.asset_id, '') AS asset_id,
	       COALESCE(r.quantity, 0) - COALESCE(s.quantity, 0) AS quantity,
	       COALESCE(r.cost_basis, 0) - COALESCE(s.cost_basis, 0) AS cost_basis
	FROM received r
	FULL OUTER JOIN sent s ON r.symbol = s.symbol
	LEFT JOIN asset_mappings m ON m.symbol = COALESCE(r.symbol, s.symbol)
	WHERE COALESCE(r.quantity, 0) - COALESCE(s.quantity, 0) > 0
	  AND COALESCE(r.cost_basis, 0) - COALESCE(s.cost_basis, 0) > 1
	ORDER BY symbol`

	rows, err := r.db.QueryxContext(ctx, q, cutoff.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Position{}
	for rows.Next() {
		var p models.Position
		if err := rows.StructScan(&p); err != nil {
			r.log.Warnf("scan net position failed: %v", err)
			continue
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ReplacePortfolioDay clears the stale rows for one date and writes
// the recomputed ones, committing the date as a unit so an aborted
// run never leaves a half-written day behind.
func (r *Repo) ReplacePortfolioDay(ctx context.Context, date time.Time, rows []models.HoldingSnapshot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin portfolio tx: %w", err)
	}
	defer tx.Rollback()

	day := date.Format(dateLayout)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM portfolio_positions WHERE date = $1::date`, day); err != nil {
		return fmt.Errorf("clear portfolio day %s: %w", day, err)
	}
	const q = `INSERT INTO portfolio_positions (date, asset_id, symbol, quantity, value, cost_basis)
		VALUES ($1::date, $2, $3, $4, $5, $6)
		ON CONFLICT (date, asset_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			quantity = EXCLUDED.quantity,
			value = EXCLUDED.value,
			cost_basis = EXCLUDED.cost_basis`
	for _, h := range rows {
		if _, err := tx.ExecContext(ctx, q,
			day, h.AssetID, h.Symbol, h.Quantity, h.Value, h.CostBasis); err != nil {
			return fmt.Errorf("upsert position %s/%s: %w", day, h.AssetID, err)
		}
	}
	return tx.Commit()
}

// RollupValue sums position values per date into the value series.
// Independent of the ledger; safe to re-run after snapshot fixes.
func (r *Repo) RollupValue(ctx context.Context) error {
	return r.rollup(ctx,
		`SELECT date, SUM(value) FROM portfolio_positions GROUP BY date ORDER BY date`,
		`INSERT INTO portfolio_value (date, value) VALUES ($1, $2)
		 ON CONFLICT (date) DO UPDATE SET value = EXCLUDED.value`)
}

// RollupCostBasis sums position cost bases per date into the
// cost-basis series.
func (r *Repo) RollupCostBasis(ctx context.Context) error {
	return r.rollup(ctx,
		`SELECT date, SUM(cost_basis) FROM portfolio_positions GROUP BY date ORDER BY date`,
		`INSERT INTO portfolio_cost_basis (date, cost_basis) VALUES ($1, $2)
		 ON CONFLICT (date) DO UPDATE SET cost_basis = EXCLUDED.cost_basis`)
}

func (r *Repo) rollup(ctx context.Context, selectQ, upsertQ string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollup tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryxContext(ctx, selectQ)
	if err != nil {
		return fmt.Errorf("rollup select: %w", err)
	}
	type sum struct {
		date  time.Time
		total decimal.Decimal
	}
	sums := []sum{}
	for rows.Next() {
		var s sum
		if err := rows.Scan(&s.date, &s.total); err != nil {
			rows.Close()
			return fmt.Errorf("rollup scan: %w", err)
		}
		sums = append(sums, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rollup rows: %w", err)
	}

	for _, s := range sums {
		if _, err := tx.ExecContext(ctx, upsertQ, s.date.Format(dateLayout), s.total); err != nil {
			return fmt.Errorf("rollup upsert %s: %w", s.date.Format(dateLayout), err)
		}
	}
	return tx.Commit()
}

func (r *Repo) ValueSeries(ctx context.Context) ([]models.SeriesPoint, error) {
	return r.series(ctx, `SELECT date, value FROM portfolio_value ORDER BY date ASC`)
}

func (r *Repo) CostBasisSeries(ctx context.Context) ([]models.SeriesPoint, error) {
	return r.series(ctx, `SELECT date, cost_basis FROM portfolio_cost_basis ORDER BY date ASC`)
}

func (r *Repo) series(ctx context.Context, q string) ([]models.SeriesPoint, error) {
	rows, err := r.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.SeriesPoint{}
	for rows.Next() {
		var d time.Time
		var amount decimal.Decimal
		if err := rows.Scan(&d, &amount); err != nil {
			r.log.Warnf("scan series point failed: %v", err)
			continue
		}
		res = append(res, models.SeriesPoint{Date: d.Format(dateLayout), Amount: amount})
	}
	return res, rows.Err()
}

// PortfolioDay returns the persisted positions for one date.
func (r *Repo) PortfolioDay(ctx context.Context, date time.Time) ([]models.HoldingSnapshot, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT asset_id, symbol, quantity, value, cost_basis
		 FROM portfolio_positions WHERE date = $1::date ORDER BY symbol`,
		date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.HoldingSnapshot{}
	for rows.Next() {
		var h models.HoldingSnapshot
		if err := rows.StructScan(&h); err != nil {
			r.log.Warnf("scan portfolio position failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
