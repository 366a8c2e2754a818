// Package graph implements the Graph Writer (C3): idempotent merge of
// transactions, addresses and their relations into a Neo4j
// labelled-property graph, grounded in
// original_source/api/neo4j_storage.py's Cypher MERGE-based writers.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

type Writer struct {
	driver neo4j.DriverWithContext
	log    zerolog.Logger
}

func Connect(ctx context.Context, uri, username, password string, log zerolog.Logger) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return &Writer{driver: driver, log: log}, nil
}

func (w *Writer) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

func (w *Writer) session(ctx context.Context) neo4j.SessionWithContext {
	return w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

// MergeTransaction creates or updates a Transaction node keyed by
// txid, one write transaction per call (spec §4.3).
func (w *Writer) MergeTransaction(ctx context.Context, tx models.Transaction, v models.Verdict) error {
	sess := w.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx2 neo4j.ManagedTransaction) (any, error) {
		_, err := tx2.Run(ctx, `
			MERGE (t:Transaction {txid: $txid})
			SET t.is_coinjoin = $is_coinjoin,
			    t.detection_method = $detection_method,
			    t.score = $score,
			    t.fee = $fee,
			    t.size = $size
		`, map[string]any{
			"txid":             tx.Txid,
			"is_coinjoin":      v.IsCoinJoin,
			"detection_method": string(v.DetectionMethod),
			"score":            v.Score,
			"fee":              tx.Fee,
			"size":             tx.Size,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// MergeAddress creates or updates an Address node, monotonically
// promoting tag related -> coinjoin and never the reverse (spec §3, §4.3).
func (w *Writer) MergeAddress(ctx context.Context, address, tag string, seenAt int64) error {
	sess := w.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (a:Address {address: $address})
			ON CREATE SET a.tag = $tag, a.first_seen = $seen_at
			SET a.last_seen = $seen_at,
			    a.tag = CASE WHEN a.tag = 'coinjoin' THEN 'coinjoin' ELSE $tag END
		`, map[string]any{
			"address": address,
			"tag":     tag,
			"seen_at": seenAt,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// LinkInput creates (Address)-[:INPUT_TO]->(Transaction) if absent.
func (w *Writer) LinkInput(ctx context.Context, address, txid string) error {
	return w.link(ctx, `
		MATCH (a:Address {address: $address}), (t:Transaction {txid: $txid})
		MERGE (a)-[:INPUT_TO]->(t)
	`, address, txid)
}

// LinkOutput creates (Transaction)-[:OUTPUT_TO]->(Address) if absent.
func (w *Writer) LinkOutput(ctx context.Context, txid, address string) error {
	return w.link(ctx, `
		MATCH (t:Transaction {txid: $txid}), (a:Address {address: $address})
		MERGE (t)-[:OUTPUT_TO]->(a)
	`, address, txid)
}

// LinkRelated creates (Address)-[:RELATED_TO]->(Transaction) for
// addresses discovered via tracing that are not direct inputs/outputs
// of the seed.
func (w *Writer) LinkRelated(ctx context.Context, address, txid string) error {
	return w.link(ctx, `
		MATCH (a:Address {address: $address}), (t:Transaction {txid: $txid})
		MERGE (a)-[:RELATED_TO]->(t)
	`, address, txid)
}

func (w *Writer) link(ctx context.Context, cypher, address, txid string) error {
	sess := w.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, map[string]any{"address": address, "txid": txid})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// HealthStatus backs the writer's health() (spec §4.3) and the
// `GET /health`/`GET /statistics` REST endpoints.
type HealthStatus struct {
	Connected         bool  `json:"connected"`
	TransactionCount  int64 `json:"transactionCount"`
	AddressCount      int64 `json:"addressCount"`
	CoinJoinCount     int64 `json:"coinJoinCount"`
}

func (w *Writer) Health(ctx context.Context) HealthStatus {
	if err := w.driver.VerifyConnectivity(ctx); err != nil {
		return HealthStatus{Connected: false}
	}

	sess := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(ctx)

	result, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := tx.Run(ctx, `
			OPTIONAL MATCH (t:Transaction) WITH count(t) AS txCount
			OPTIONAL MATCH (a:Address) WITH txCount, count(a) AS addrCount
			OPTIONAL MATCH (cj:Transaction {is_coinjoin: true}) WITH txCount, addrCount, count(cj) AS cjCount
			RETURN txCount, addrCount, cjCount
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := rec.Single(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("health query failed")
		return HealthStatus{Connected: true}
	}

	record := result.(*neo4j.Record)
	txCount, _ := record.Get("txCount")
	addrCount, _ := record.Get("addrCount")
	cjCount, _ := record.Get("cjCount")

	return HealthStatus{
		Connected:        true,
		TransactionCount: asInt64(txCount),
		AddressCount:     asInt64(addrCount),
		CoinJoinCount:    asInt64(cjCount),
	}
}

func asInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}
