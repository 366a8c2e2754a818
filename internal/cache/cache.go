// Package cache implements the TX Cache (C2): a bounded, thread-safe
// LRU+TTL mapping with two logical namespaces — transaction bodies
// keyed by txid, and address-history pages keyed by address — grounded
// in original_source's utils/cache.py LRUCache/TransactionCache split.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// Result distinguishes a fresh hit from an absent key (spec §4.2). The
// underlying expirable LRU drops expired entries on access rather than
// surfacing them as a distinguishable stale state, so an expired key
// reads back as Absent rather than a separate "stale" result.
type Result int

const (
	Hit Result = iota
	Absent
)

// AddressPage is one page of an address's transaction history.
type AddressPage struct {
	Txids      []string
	NextCursor string
}

// Cache holds the two namespaces. Both namespaces are backed by
// hashicorp/golang-lru/v2's expirable LRU, which combines capacity-based
// eviction with a per-entry TTL in a single thread-safe structure.
type Cache struct {
	txs   *lru.LRU[string, models.Transaction]
	pages *lru.LRU[string, AddressPage]
}

func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		txs:   lru.NewLRU[string, models.Transaction](capacity, nil, ttl),
		pages: lru.NewLRU[string, AddressPage](capacity, nil, ttl),
	}
}

func (c *Cache) GetTransaction(txid string) (models.Transaction, Result) {
	tx, ok := c.txs.Get(txid)
	if !ok {
		return models.Transaction{}, Absent
	}
	return tx, Hit
}

func (c *Cache) SetTransaction(tx models.Transaction) {
	c.txs.Add(tx.Txid, tx)
}

func (c *Cache) GetAddressPage(address string) (AddressPage, Result) {
	p, ok := c.pages.Get(address)
	if !ok {
		return AddressPage{}, Absent
	}
	return p, Hit
}

func (c *Cache) SetAddressPage(address string, page AddressPage) {
	c.pages.Add(address, page)
}

// Clear empties both namespaces (backs `POST /cache/clear`).
func (c *Cache) Clear() {
	c.txs.Purge()
	c.pages.Purge()
}

// Cleanup backs `POST /cache/cleanup`. The expirable LRU sweeps expired
// entries on its own background ticker and on access, so there is
// nothing to force; this returns the current sizes for the caller to
// report.
func (c *Cache) Cleanup() Status {
	return c.StatusSnapshot()
}

// Status reports sizes for `GET /cache/status`.
type Status struct {
	TransactionCount int `json:"transactionCount"`
	AddressPageCount int `json:"addressPageCount"`
}

func (c *Cache) StatusSnapshot() Status {
	return Status{
		TransactionCount: c.txs.Len(),
		AddressPageCount: c.pages.Len(),
	}
}
