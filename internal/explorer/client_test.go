package explorer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:            baseURL,
		MinRequestInterval: time.Millisecond,
		MaxInFlight:        4,
		Timeout:            2 * time.Second,
		RetryAttempts:      3,
		RetryBaseDelay:     time.Millisecond,
	}
}

func TestClient_GetTx_ParsesWireShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		height := int64(800000)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"txid": "abc",
			"vin": []map[string]any{
				{"txid": "prev1", "vout": 0, "prevout": map[string]any{"value": 100000, "scriptpubkey_address": "addrA"}},
			},
			"vout": []map[string]any{
				{"value": 90000, "scriptpubkey_address": "addrB"},
			},
			"fee":  1000,
			"size": 250,
			"status": map[string]any{
				"confirmed":    true,
				"block_height": height,
			},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	tx, err := c.GetTx(t.Context(), "abc")
	require.NoError(t, err)

	assert.Equal(t, "abc", tx.Txid)
	assert.Equal(t, int64(1000), tx.Fee)
	assert.True(t, tx.Confirmed)
	require.NotNil(t, tx.BlockHeight)
	assert.Equal(t, int64(800000), *tx.BlockHeight)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, "addrA", tx.Inputs[0].Address)
	require.Len(t, tx.Outputs, 1)
	assert.Equal(t, "addrB", tx.Outputs[0].Address)
}

func TestClient_GetTx_404IsPermanentNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetTx(t.Context(), "missing")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 must not be retried")
}

func TestClient_GetTx_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"txid": "ratelimited-then-ok"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	tx, err := c.GetTx(t.Context(), "x")

	require.NoError(t, err)
	assert.Equal(t, "ratelimited-then-ok", tx.Txid)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GetTx_ExhaustsRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetTx(t.Context(), "x")

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "must stop after RetryAttempts")
}

func TestClient_GetTx_4xxOtherThan404IsPermanentMalformed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetTx(t.Context(), "x")

	assert.True(t, errors.Is(err, models.ErrMalformed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_GetSpendingTx_UnspentReturnsErrUnspent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"spent": false})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetSpendingTx(t.Context(), "prev", 0)

	assert.ErrorIs(t, err, models.ErrUnspent)
}

func TestClient_GetSpendingTx_SpentReturnsTxid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"spent": true, "txid": "spender"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	txid, err := c.GetSpendingTx(t.Context(), "prev", 0)

	require.NoError(t, err)
	assert.Equal(t, "spender", txid)
}

func TestClient_GetMempoolTxids_ParsesIDList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"a", "b", "c"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	ids, err := c.GetMempoolTxids(t.Context())

	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "a")
}
