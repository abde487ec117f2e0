// Package chainclient implements the RPC/LCD client of spec §4.A: JSON
// fetches against endpoint lists with primary/backup failover and
// jittered exponential backoff on transient errors. Generalizes the
// teacher's single-endpoint client-with-options constructor
// (pkg txlistener.NewTxListener(client, WithPollInterval(...),
// WithTimeout(...)) referenced from blackhole.go/cmd/main.go) to a
// multi-endpoint REST client.
package chainclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Client round-robins across RPC and LCD endpoint lists, retrying
// transient failures with backoff.
type Client struct {
	httpc *http.Client
	log   zerolog.Logger

	rpcEndpoints []string
	lcdEndpoints []string
	rpcIdx       int
	lcdIdx       int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpc.Timeout = d }
}

// New builds a Client over the given RPC and LCD endpoint lists. The
// first entry of each list is primary; subsequent entries are backups
// tried round-robin on failure.
func New(rpc, lcd []string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpc:        &http.Client{Timeout: 10 * time.Second},
		log:          log,
		rpcEndpoints: rpc,
		lcdEndpoints: lcd,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusResult is the decoded /status response, trimmed to the field
// the indexer needs.
type StatusResult struct {
	LatestHeight int64
}

// Status fetches /status and returns the latest chain height.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var raw struct {
		Result struct {
			SyncInfo struct {
				LatestBlockHeight string `json:"latest_block_height"`
			} `json:"sync_info"`
		} `json:"result"`
	}
	if err := c.getRPC(ctx, "/status", &raw); err != nil {
		return StatusResult{}, err
	}
	var h int64
	if _, err := fmt.Sscanf(raw.Result.SyncInfo.LatestBlockHeight, "%d", &h); err != nil {
		return StatusResult{}, fmt.Errorf("chainclient: parse latest height: %w", err)
	}
	return StatusResult{LatestHeight: h}, nil
}

// BlockResult is the decoded /block response, trimmed to header time
// and raw tx bytes.
type BlockResult struct {
	Header struct {
		Time time.Time
	}
	Txs [][]byte // decoded from base64
}

// Block fetches /block?height=h.
func (c *Client) Block(ctx context.Context, height int64) (BlockResult, error) {
	var raw struct {
		Result struct {
			Block struct {
				Header struct {
					Time time.Time `json:"time"`
				} `json:"header"`
				Data struct {
					Txs []string `json:"txs"`
				} `json:"data"`
			} `json:"block"`
		} `json:"result"`
	}
	if err := c.getRPC(ctx, fmt.Sprintf("/block?height=%d", height), &raw); err != nil {
		return BlockResult{}, err
	}
	out := BlockResult{}
	out.Header.Time = raw.Result.Block.Header.Time
	out.Txs = make([][]byte, 0, len(raw.Result.Block.Data.Txs))
	for _, t := range raw.Result.Block.Data.Txs {
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return BlockResult{}, fmt.Errorf("chainclient: decode tx: %w", err)
		}
		out.Txs = append(out.Txs, b)
	}
	return out, nil
}

// RawEventAttribute mirrors the wire shape of one event attribute.
type RawEventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RawEvent mirrors the wire shape of one tx event.
type RawEvent struct {
	Type       string              `json:"type"`
	Attributes []RawEventAttribute `json:"attributes"`
}

// TxResult is one entry of block_results' txs_results array.
type TxResult struct {
	Events []RawEvent `json:"events"`
}

// BlockResultsResult is the decoded /block_results response.
type BlockResultsResult struct {
	TxsResults []TxResult `json:"txs_results"`
}

// BlockResults fetches /block_results?height=h.
func (c *Client) BlockResults(ctx context.Context, height int64) (BlockResultsResult, error) {
	var raw struct {
		Result BlockResultsResult `json:"result"`
	}
	if err := c.getRPC(ctx, fmt.Sprintf("/block_results?height=%d", height), &raw); err != nil {
		return BlockResultsResult{}, err
	}
	return raw.Result, nil
}

// DenomMetadata fetches /cosmos/bank/v1beta1/denoms_metadata/{denom}.
func (c *Client) DenomMetadata(ctx context.Context, denom string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getLCD(ctx, "/cosmos/bank/v1beta1/denoms_metadata/"+denom, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FactoryDenom fetches the chain-specific factory supply endpoint.
func (c *Client) FactoryDenom(ctx context.Context, denom string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getLCD(ctx, "/zigchain/factory/denom/"+denom, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DenomOwnersPage is one page of /cosmos/bank/v1beta1/denom_owners.
type DenomOwnersPage struct {
	DenomOwners []struct {
		Address string `json:"address"`
		Balance struct {
			Amount string `json:"amount"`
		} `json:"balance"`
	} `json:"denom_owners"`
	Pagination struct {
		NextKey string `json:"next_key"`
	} `json:"pagination"`
}

// ErrNotImplemented is returned when the LCD answers 501 for an
// endpoint it does not support for a given denom (spec §4.G, §7).
var ErrNotImplemented = fmt.Errorf("chainclient: endpoint not implemented for this denom")

// DenomOwners paginates /cosmos/bank/v1beta1/denom_owners/{denom}.
func (c *Client) DenomOwners(ctx context.Context, denom, pageKey string) (DenomOwnersPage, error) {
	path := "/cosmos/bank/v1beta1/denom_owners/" + denom
	if pageKey != "" {
		path += "?pagination.key=" + pageKey
	}
	var page DenomOwnersPage
	err := c.getLCD(ctx, path, &page)
	return page, err
}

// IBCDenomTrace fetches /ibc/apps/transfer/v1/denoms/ibc/{hash}.
func (c *Client) IBCDenomTrace(ctx context.Context, hash string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getLCD(ctx, "/ibc/apps/transfer/v1/denoms/ibc/"+hash, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SmartQuery calls /cosmwasm/wasm/v1/contract/{addr}/smart/{base64(msg)}.
func (c *Client) SmartQuery(ctx context.Context, contract string, msg json.RawMessage) (json.RawMessage, error) {
	encoded := base64.StdEncoding.EncodeToString(msg)
	var raw json.RawMessage
	if err := c.getLCD(ctx, "/cosmwasm/wasm/v1/contract/"+contract+"/smart/"+encoded, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// --- transport ---

func (c *Client) getRPC(ctx context.Context, path string, out any) error {
	return c.getWithFailover(ctx, c.rpcEndpoints, &c.rpcIdx, path, out)
}

func (c *Client) getLCD(ctx context.Context, path string, out any) error {
	return c.getWithFailover(ctx, c.lcdEndpoints, &c.lcdIdx, path, out)
}

// getWithFailover tries each endpoint in turn, starting from the last
// one that succeeded. Each endpoint gets getWithRetry's jittered
// exponential backoff for transient errors; any error it ends with,
// transient or permanent, advances to the next endpoint.
func (c *Client) getWithFailover(ctx context.Context, endpoints []string, idx *int, path string, out any) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("chainclient: no endpoints configured")
	}

	var lastErr error
	for attempt := 0; attempt < len(endpoints); attempt++ {
		ep := endpoints[(*idx+attempt)%len(endpoints)]
		err := c.getWithRetry(ctx, ep+path, out)
		if err == nil {
			*idx = (*idx + attempt) % len(endpoints)
			return nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("endpoint", ep).Msg("chainclient: endpoint failed, trying next")
	}
	return fmt.Errorf("chainclient: all endpoints failed: %w", lastErr)
}

func (c *Client) getWithRetry(ctx context.Context, url string, out any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 1.5
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err // transient: network error
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotImplemented {
			return backoff.Permanent(ErrNotImplemented)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("chainclient: transient status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("chainclient: status %d: %s", resp.StatusCode, string(body)))
		}
		if out == nil {
			return nil
		}
		dec := json.NewDecoder(resp.Body)
		if err := dec.Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("chainclient: decode body: %w", err))
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		c.log.Debug().Err(err).Dur("next_in", next+jitter).Msg("chainclient: retrying")
	}

	return backoff.RetryNotify(op, bo, notify)
}
