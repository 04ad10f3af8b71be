// Package coingecko provides a client for the CoinGecko API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cryptofolio/internal/models"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 30 * time.Second

	// The public/demo tier allows roughly 30 calls per minute.
	DefaultRateLimit = rate.Limit(0.5)

	quoteCurrency = "usd"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Logger
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the shared token bucket all requests wait on.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(log *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(DefaultRateLimit, 1),
		log:     logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coingecko API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsThrottled reports whether err is the provider's rate-limit signal.
func IsThrottled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// get performs a rate-limited GET and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	c.log.Debugf("coingecko request %s", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Endpoint: path}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

type marketRow struct {
	ID                    string     `json:"id"`
	Symbol                string     `json:"symbol"`
	Name                  string     `json:"name"`
	Image                 string     `json:"image"`
	MarketCapRank         *int       `json:"market_cap_rank"`
	CurrentPrice          *float64   `json:"current_price"`
	MarketCap             *float64   `json:"market_cap"`
	FullyDilutedValuation *float64   `json:"fully_diluted_valuation"`
	TotalVolume           *float64   `json:"total_volume"`
	High24h               *float64   `json:"high_24h"`
	Low24h                *float64   `json:"low_24h"`
	PriceChange24h        *float64   `json:"price_change_24h"`
	PriceChangePct24h     *float64   `json:"price_change_percentage_24h"`
	MarketCapChange24h    *float64   `json:"market_cap_change_24h"`
	MarketCapChangePct24h *float64   `json:"market_cap_change_percentage_24h"`
	CirculatingSupply     *float64   `json:"circulating_supply"`
	TotalSupply           *float64   `json:"total_supply"`
	MaxSupply             *float64   `json:"max_supply"`
	ATH                   *float64   `json:"ath"`
	ATHChangePct          *float64   `json:"ath_change_percentage"`
	ATHDate               *time.Time `json:"ath_date"`
	ATL                   *float64   `json:"atl"`
	ATLChangePct          *float64   `json:"atl_change_percentage"`
	ATLDate               *time.Time `json:"atl_date"`
	ROI                   *struct {
		Times      float64 `json:"times"`
		Currency   string  `json:"currency"`
		Percentage float64 `json:"percentage"`
	} `json:"roi"`
	LastUpdated        *time.Time `json:"last_updated"`
	PriceChangePct1h   *float64   `json:"price_change_percentage_1h_in_currency"`
	PriceChangePct7d   *float64   `json:"price_change_percentage_7d_in_currency"`
	PriceChangePct14d  *float64   `json:"price_change_percentage_14d_in_currency"`
	PriceChangePct30d  *float64   `json:"price_change_percentage_30d_in_currency"`
	PriceChangePct200d *float64   `json:"price_change_percentage_200d_in_currency"`
	PriceChangePct1y   *float64   `json:"price_change_percentage_1y_in_currency"`
}

// safeFloat keeps downstream arithmetic total: an absent numeric
// field becomes 0, never NULL.
func safeFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Markets fetches the batched market snapshot for the given asset IDs.
// Records missing the required id/symbol/name fields are rejected and
// logged; the rest of the batch is returned.
func (c *Client) Markets(ctx context.Context, ids []string) ([]models.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("vs_currency", quoteCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", "250")
	params.Set("page", "1")
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "1h,24h,7d,14d,30d,200d,1y")
	params.Set("locale", "en")
	params.Set("precision", "18")
	params.Set("ids", strings.Join(ids, ","))

	var rows []marketRow
	if err := c.get(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}

	snaps := make([]models.MarketSnapshot, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" || row.Symbol == "" || row.Name == "" {
			c.log.Errorf("market record missing id/symbol/name, dropping: %+v", row)
			continue
		}
		rank := 0
		if row.MarketCapRank != nil {
			rank = *row.MarketCapRank
		}
		var roi *float64
		if row.ROI != nil {
			pct := row.ROI.Percentage
			roi = &pct
		}
		snaps = append(snaps, models.MarketSnapshot{
			AssetID:               row.ID,
			Symbol:                row.Symbol,
			Name:                  row.Name,
			Image:                 row.Image,
			MarketCapRank:         rank,
			CurrentPrice:          decimal.NewFromFloat(safeFloat(row.CurrentPrice)),
			MarketCap:             safeFloat(row.MarketCap),
			FullyDilutedValuation: safeFloat(row.FullyDilutedValuation),
			TotalVolume:           safeFloat(row.TotalVolume),
			High24h:               safeFloat(row.High24h),
			Low24h:                safeFloat(row.Low24h),
			PriceChange24h:        safeFloat(row.PriceChange24h),
			PriceChangePct24h:     safeFloat(row.PriceChangePct24h),
			MarketCapChange24h:    safeFloat(row.MarketCapChange24h),
			MarketCapChangePct24h: safeFloat(row.MarketCapChangePct24h),
			CirculatingSupply:     safeFloat(row.CirculatingSupply),
			TotalSupply:           safeFloat(row.TotalSupply),
			MaxSupply:             safeFloat(row.MaxSupply),
			ATH:                   safeFloat(row.ATH),
			ATHChangePct:          safeFloat(row.ATHChangePct),
			ATHDate:               row.ATHDate,
			ATL:                   safeFloat(row.ATL),
			ATLChangePct:          safeFloat(row.ATLChangePct),
			ATLDate:               row.ATLDate,
			ROI:                   roi,
			LastUpdated:           row.LastUpdated,
			PriceChangePct1h:      safeFloat(row.PriceChangePct1h),
			PriceChangePct7d:      safeFloat(row.PriceChangePct7d),
			PriceChangePct14d:     safeFloat(row.PriceChangePct14d),
			PriceChangePct30d:     safeFloat(row.PriceChangePct30d),
			PriceChangePct200d:    safeFloat(row.PriceChangePct200d),
			PriceChangePct1y:      safeFloat(row.PriceChangePct1y),
		})
	}
	return snaps, nil
}

// List fetches the full asset catalog.
func (c *Client) List(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	if err := c.get(ctx, "/coins/list", nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Chart is a daily historical series: three parallel arrays of
// [epoch_millis, value] pairs.
type Chart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// MarketChart fetches one asset's daily series over a trailing window.
func (c *Client) MarketChart(ctx context.Context, assetID string, days int) (*Chart, error) {
	params := url.Values{}
	params.Set("vs_currency", quoteCurrency)
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")
	params.Set("precision", "8")

	var chart Chart
	if err := c.get(ctx, "/coins/"+url.PathEscape(assetID)+"/market_chart", params, &chart); err != nil {
		return nil, err
	}
	return &chart, nil
}
