// Package fx implements the FX Fetcher (spec §4.I): on an interval,
// pull the configured USD/native quote from an external price
// provider and persist it as an idempotent per-minute rate.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

const quotesEndpoint = "https://pro-api.coinmarketcap.com/v2/cryptocurrency/quotes/latest"

// Fetcher polls the configured CoinMarketCap quote on an interval and
// upserts it (spec §4.I).
type Fetcher struct {
	httpc    *http.Client
	apiKey   string
	symbol   string
	convert  string
	interval time.Duration
	fxSt     *store.FXStore
	log      zerolog.Logger
}

// New builds a Fetcher.
func New(apiKey, symbol, convert string, interval time.Duration, fxSt *store.FXStore, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		httpc:    &http.Client{Timeout: 10 * time.Second},
		apiKey:   apiKey,
		symbol:   symbol,
		convert:  convert,
		interval: interval,
		fxSt:     fxSt,
		log:      log,
	}
}

// Run polls until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if err := f.tick(ctx); err != nil {
			f.log.Error().Err(err).Msg("fx: cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *Fetcher) tick(ctx context.Context) error {
	price, err := f.fetchPrice(ctx)
	if err != nil {
		return err
	}
	return f.fxSt.Upsert(ctx, domain.FXRate{
		Ts:           time.Now().Truncate(time.Minute),
		NativePerUSD: price,
	})
}

// fetchPrice requests the quote, retrying 429/5xx with exponential
// backoff up to 4 attempts (1.5s initial, cap 15s); any other status
// fails the cycle outright (spec §4.I).
func (f *Fetcher) fetchPrice(ctx context.Context) (decimal.Decimal, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bounded := backoff.WithMaxRetries(bo, 3)

	var price decimal.Decimal
	op := func() error {
		p, err := f.requestOnce(ctx)
		if err != nil {
			return err
		}
		price = p
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bounded, ctx)); err != nil {
		return decimal.Zero, fmt.Errorf("fx: fetch quote: %w", err)
	}
	return price, nil
}

func (f *Fetcher) requestOnce(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, quotesEndpoint, nil)
	if err != nil {
		return decimal.Zero, backoff.Permanent(err)
	}
	q := req.URL.Query()
	q.Set("symbol", f.symbol)
	q.Set("convert", f.convert)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-CMC_PRO_API_KEY", f.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return decimal.Zero, err // transient: network error
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return decimal.Zero, fmt.Errorf("fx: transient status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, backoff.Permanent(fmt.Errorf("fx: status %d: %s", resp.StatusCode, string(body)))
	}

	var wire struct {
		Data map[string][]struct {
			Quote map[string]struct {
				Price float64 `json:"price"`
			} `json:"quote"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("fx: decode: %w", err))
	}
	entries, ok := wire.Data[f.symbol]
	if !ok || len(entries) == 0 {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("fx: symbol %s missing from response", f.symbol))
	}
	quote, ok := entries[0].Quote[f.convert]
	if !ok {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("fx: convert currency %s missing from response", f.convert))
	}
	return decimal.NewFromFloat(quote.Price), nil
}
