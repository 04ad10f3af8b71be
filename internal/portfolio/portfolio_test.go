package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptofolio/internal/models"
)

const day = "2006-01-02"

type fakeStore struct {
	positions  map[string][]models.Position       // cutoff date -> positions
	snapPrices map[string]decimal.Decimal         // asset id -> live price
	histPrices map[string]decimal.Decimal         // "assetID|date" -> price
	days       map[string][]models.HoldingSnapshot // persisted portfolio rows
	replaced   []string                            // dates in replace order
	valueSum   map[string]decimal.Decimal
	costSum    map[string]decimal.Decimal
	priceErr   error
}

func newStore() *fakeStore {
	return &fakeStore{
		positions:  map[string][]models.Position{},
		snapPrices: map[string]decimal.Decimal{},
		histPrices: map[string]decimal.Decimal{},
		days:       map[string][]models.HoldingSnapshot{},
		valueSum:   map[string]decimal.Decimal{},
		costSum:    map[string]decimal.Decimal{},
	}
}

func (f *fakeStore) NetPositions(ctx context.Context, cutoff time.Time) ([]models.Position, error) {
	return f.positions[cutoff.Format(day)], nil
}

func (f *fakeStore) SnapshotPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error) {
	if f.priceErr != nil {
		return decimal.Zero, false, f.priceErr
	}
	p, ok := f.snapPrices[assetID]
	return p, ok, nil
}

func (f *fakeStore) HistoricalPrice(ctx context.Context, assetID string, date time.Time) (decimal.Decimal, bool, error) {
	if f.priceErr != nil {
		return decimal.Zero, false, f.priceErr
	}
	p, ok := f.histPrices[assetID+"|"+date.Format(day)]
	return p, ok, nil
}

func (f *fakeStore) ReplacePortfolioDay(ctx context.Context, date time.Time, rows []models.HoldingSnapshot) error {
	d := date.Format(day)
	f.days[d] = rows
	f.replaced = append(f.replaced, d)
	return nil
}

func (f *fakeStore) RollupValue(ctx context.Context) error {
	f.valueSum = map[string]decimal.Decimal{}
	for d, rows := range f.days {
		total := decimal.Zero
		for _, h := range rows {
			total = total.Add(h.Value)
		}
		if len(rows) > 0 {
			f.valueSum[d] = total
		}
	}
	return nil
}

func (f *fakeStore) RollupCostBasis(ctx context.Context) error {
	f.costSum = map[string]decimal.Decimal{}
	for d, rows := range f.days {
		total := decimal.Zero
		for _, h := range rows {
			total = total.Add(h.CostBasis)
		}
		if len(rows) > 0 {
			f.costSum[d] = total
		}
	}
	return nil
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

var today = time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)

func TestValueOf_TodayUsesSnapshot(t *testing.T) {
	store := newStore()
	store.snapPrices["bitcoin"] = decimal.NewFromInt(50000)
	store.histPrices["bitcoin|2024-01-15"] = decimal.NewFromInt(99999)
	e := New(store, logrus.New(), fixedClock(today))

	v, err := e.ValueOf(context.Background(), "bitcoin", decimal.NewFromInt(2), today)
	require.NoError(t, err)
	assert.Equal(t, "100000", v.String())
}

func TestValueOf_PastDateUsesHistory(t *testing.T) {
	store := newStore()
	store.snapPrices["bitcoin"] = decimal.NewFromInt(99999)
	store.histPrices["bitcoin|2024-01-10"] = decimal.NewFromInt(48000)
	e := New(store, logrus.New(), fixedClock(today))

	past := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	v, err := e.ValueOf(context.Background(), "bitcoin", decimal.NewFromInt(2), past)
	require.NoError(t, err)
	assert.Equal(t, "96000", v.String())
}

func TestValueOf_MissingPriceIsZeroNotError(t *testing.T) {
	e := New(newStore(), logrus.New(), fixedClock(today))

	v, err := e.ValueOf(context.Background(), "bitcoin", decimal.NewFromInt(2), today)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	v, err = e.ValueOf(context.Background(), "bitcoin", decimal.NewFromInt(2), today.AddDate(0, 0, -3))
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestValueOf_UnmappedAssetIsZero(t *testing.T) {
	e := New(newStore(), logrus.New(), fixedClock(today))
	v, err := e.ValueOf(context.Background(), "", decimal.NewFromInt(2), today)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestValueOf_StorageErrorSurfaces(t *testing.T) {
	store := newStore()
	store.priceErr = errors.New("connection refused")
	e := New(store, logrus.New(), fixedClock(today))

	_, err := e.ValueOf(context.Background(), "bitcoin", decimal.NewFromInt(1), today)
	require.Error(t, err)
}

func TestSnapshotAt_ValueIsTheFinalGate(t *testing.T) {
	store := newStore()
	cutoff := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	store.positions["2024-01-10"] = []models.Position{
		{Symbol: "btc", AssetID: "bitcoin", Quantity: decimal.NewFromInt(2), CostBasis: decimal.NewFromInt(80000)},
		{Symbol: "eth", AssetID: "ethereum", Quantity: decimal.NewFromInt(5), CostBasis: decimal.NewFromInt(10000)},
	}
	// only bitcoin has a price on that date
	store.histPrices["bitcoin|2024-01-10"] = decimal.NewFromInt(48000)
	e := New(store, logrus.New(), fixedClock(today))

	snap, err := e.SnapshotAt(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	h := snap["btc"]
	assert.Equal(t, "96000", h.Value.String())
	assert.Equal(t, "80000", h.CostBasis.String())
}

func TestSnapshotAt_EmptyIsNotAnError(t *testing.T) {
	e := New(newStore(), logrus.New(), fixedClock(today))
	snap, err := e.SnapshotAt(context.Background(), today.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestPopulatePortfolio_CommitOrderAndClearing(t *testing.T) {
	store := newStore()
	store.positions["2024-01-10"] = []models.Position{
		{Symbol: "btc", AssetID: "bitcoin", Quantity: decimal.NewFromInt(1), CostBasis: decimal.NewFromInt(40000)},
	}
	store.histPrices["bitcoin|2024-01-10"] = decimal.NewFromInt(48000)
	// pre-existing stale rows for a date that now values to nothing
	store.days["2024-01-11"] = []models.HoldingSnapshot{{Symbol: "stale"}}
	e := New(store, logrus.New(), fixedClock(today))

	dates := []time.Time{
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.PopulatePortfolio(context.Background(), dates))

	assert.Equal(t, []string{"2024-01-10", "2024-01-11"}, store.replaced)
	require.Len(t, store.days["2024-01-10"], 1)
	assert.Empty(t, store.days["2024-01-11"])
}

func TestEndToEnd_SingleReceivedLeg(t *testing.T) {
	// ledger: received 10 X at cost basis 100 on day 1; X priced at 5
	store := newStore()
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.positions["2024-01-01"] = []models.Position{
		{Symbol: "x", AssetID: "x-coin", Quantity: decimal.NewFromInt(10), CostBasis: decimal.NewFromInt(100)},
	}
	store.histPrices["x-coin|2024-01-01"] = decimal.NewFromInt(5)
	e := New(store, logrus.New(), fixedClock(today))

	snap, err := e.SnapshotAt(context.Background(), day1)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "10", snap["x"].Quantity.String())
	assert.Equal(t, "50", snap["x"].Value.String())
	assert.Equal(t, "100", snap["x"].CostBasis.String())

	require.NoError(t, e.PopulatePortfolio(context.Background(), []time.Time{day1}))
	require.NoError(t, e.Rollup(context.Background()))

	assert.Equal(t, "50", store.valueSum["2024-01-01"].String())
	assert.Equal(t, "100", store.costSum["2024-01-01"].String())

	// re-running the aggregator converges on the same rows
	require.NoError(t, e.PopulatePortfolio(context.Background(), []time.Time{day1}))
	require.NoError(t, e.Rollup(context.Background()))
	assert.Equal(t, "50", store.valueSum["2024-01-01"].String())
	assert.Equal(t, "100", store.costSum["2024-01-01"].String())
	assert.Len(t, store.days["2024-01-01"], 1)
}

func TestDateRange(t *testing.T) {
	end := time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC)
	dates := DateRange(end, 3)
	require.Len(t, dates, 3)
	assert.Equal(t, "2024-01-13", dates[0].Format(day))
	assert.Equal(t, "2024-01-14", dates[1].Format(day))
	assert.Equal(t, "2024-01-15", dates[2].Format(day))
	for _, d := range dates {
		assert.Equal(t, d, DateOnly(d))
	}
}
