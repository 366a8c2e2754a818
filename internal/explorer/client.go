// Package explorer implements the Explorer Client (C1): typed HTTP
// access to an esplora-style block-explorer (mempool.space/Blockstream
// wire shape), grounded in original_source/api/blockchain_api.py's
// BlockstreamAPI/MempoolAPI implementations and in the teacher's retry
// idiom (internal/bitcoin/client.go's fee-estimation fallback chain).
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// Config mirrors internal/config's ExplorerConfig to keep this package
// importable without depending on internal/config directly.
type Config struct {
	BaseURL            string
	MinRequestInterval time.Duration
	MaxInFlight        int
	Timeout            time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
}

// Client is stateless beyond the rate limiter and in-flight semaphore,
// per spec §4.1.
type Client struct {
	cfg    Config
	http   *http.Client
	sem    *semaphore.Weighted
	ticker *rateLimiter
}

func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		ticker: newRateLimiter(cfg.MinRequestInterval),
	}
}

// rateLimiter enforces a minimum interval between admitted requests.
type rateLimiter struct {
	interval time.Duration
	tokens   chan struct{}
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	rl := &rateLimiter{interval: interval, tokens: make(chan struct{}, 1)}
	rl.tokens <- struct{}{}
	return rl
}

func (rl *rateLimiter) wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		time.Sleep(rl.interval)
		rl.tokens <- struct{}{}
	}()
	return nil
}

// wireVin/wireVout/wireTx mirror the explorer's JSON shape (spec §6).
type wireVin struct {
	Txid    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Prevout struct {
		Value              int64  `json:"value"`
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	} `json:"prevout"`
}

type wireVout struct {
	Value               int64  `json:"value"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
}

type wireStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight *int64 `json:"block_height"`
}

type wireTx struct {
	Txid   string     `json:"txid"`
	Vin    []wireVin  `json:"vin"`
	Vout   []wireVout `json:"vout"`
	Fee    int64      `json:"fee"`
	Size   int        `json:"size"`
	Status wireStatus `json:"status"`
}

func (w wireTx) toModel() models.Transaction {
	tx := models.Transaction{
		Txid:        w.Txid,
		Fee:         w.Fee,
		Size:        w.Size,
		Confirmed:   w.Status.Confirmed,
		BlockHeight: w.Status.BlockHeight,
	}
	for _, in := range w.Vin {
		tx.Inputs = append(tx.Inputs, models.TxIn{
			PrevTxid: in.Txid,
			PrevVout: in.Vout,
			Address:  in.Prevout.ScriptPubKeyAddress,
			Value:    in.Prevout.Value,
		})
	}
	for _, out := range w.Vout {
		tx.Outputs = append(tx.Outputs, models.TxOut{
			Address: out.ScriptPubKeyAddress,
			Value:   out.Value,
		})
	}
	return tx
}

// do performs one HTTP GET against path, applying admission (rate
// limiter + in-flight semaphore) and the capped-exponential-backoff
// retry policy of spec §4.1: 3 attempts, base 200ms, jitter, retrying
// only RateLimited/Unavailable. Malformed responses are never retried.
func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var body []byte
	op := func() error {
		if err := c.ticker.wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrMalformed, err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return models.ErrUnavailable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return models.ErrRateLimited
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(models.ErrNotFound)
		case resp.StatusCode >= 500:
			return models.ErrUnavailable
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%w: status %d", models.ErrMalformed, resp.StatusCode))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrMalformed, err))
		}
		body = b
		return nil
	}

	bo := backoff.WithMaxRetries(
		&jitteredExponential{base: c.cfg.RetryBaseDelay},
		uint64(c.cfg.RetryAttempts-1),
	)
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		if err == models.ErrRateLimited || err == models.ErrUnavailable {
			return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return body, nil
}

// jitteredExponential implements backoff.BackOff with full jitter on
// top of 2^n * base, matching spec §4.1 exactly.
type jitteredExponential struct {
	base    time.Duration
	attempt int
}

func (j *jitteredExponential) NextBackOff() time.Duration {
	d := j.base << j.attempt
	j.attempt++
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func (j *jitteredExponential) Reset() { j.attempt = 0 }

// GetMempoolTxids returns the set of txids currently in the mempool.
func (c *Client) GetMempoolTxids(ctx context.Context) (map[string]struct{}, error) {
	body, err := c.do(ctx, "/mempool/txids")
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// GetTx fetches a transaction body by id.
func (c *Client) GetTx(ctx context.Context, txid string) (models.Transaction, error) {
	body, err := c.do(ctx, "/tx/"+txid)
	if err != nil {
		return models.Transaction{}, err
	}
	var w wireTx
	if err := json.Unmarshal(body, &w); err != nil {
		return models.Transaction{}, fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	return w.toModel(), nil
}

// GetAddressTxs fetches one page of an address's transaction history.
// cursor is the last-seen txid from the previous page, or "" for the
// first page.
func (c *Client) GetAddressTxs(ctx context.Context, address, cursor string) ([]string, string, error) {
	path := "/address/" + address + "/txs/chain/" + cursor
	body, err := c.do(ctx, path)
	if err != nil {
		return nil, "", err
	}
	var wire []wireTx
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	ids := make([]string, 0, len(wire))
	for _, w := range wire {
		ids = append(ids, w.Txid)
	}
	next := ""
	if len(ids) > 0 {
		next = ids[len(ids)-1]
	}
	return ids, next, nil
}

// GetSpendingTx resolves which transaction, if any, spends the given
// prevout. Returns models.ErrUnspent if the output is unspent.
func (c *Client) GetSpendingTx(ctx context.Context, prevTxid string, vout uint32) (string, error) {
	path := "/tx/" + prevTxid + "/outspend/" + strconv.FormatUint(uint64(vout), 10)
	body, err := c.do(ctx, path)
	if err != nil {
		return "", err
	}
	var out struct {
		Spent bool   `json:"spent"`
		Txid  string `json:"txid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	if !out.Spent {
		return "", models.ErrUnspent
	}
	return out.Txid, nil
}
