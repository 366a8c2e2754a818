package tracer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/coinjoin-tracer/internal/cache"
	"github.com/rawblock/coinjoin-tracer/internal/classify"
	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// fakeExplorer is a hand-written Explorer double: a chain of txids where
// each tx spends straight into the next, so tests can drive depth/budget
// behaviour deterministically without network I/O.
type fakeExplorer struct {
	txs        map[string]models.Transaction
	spends     map[string]string // "txid:vout" -> spending txid
	addressIDs map[string][]string
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		txs:        make(map[string]models.Transaction),
		spends:     make(map[string]string),
		addressIDs: make(map[string][]string),
	}
}

func (f *fakeExplorer) addTx(txid string, numOutputs int) models.Transaction {
	tx := models.Transaction{Txid: txid}
	tx.Inputs = []models.TxIn{{Address: "in-" + txid, Value: 1_000_000}}
	for i := 0; i < numOutputs; i++ {
		tx.Outputs = append(tx.Outputs, models.TxOut{Address: "out-" + txid, Value: 500_000})
	}
	f.txs[txid] = tx
	return tx
}

func (f *fakeExplorer) chain(txid, spendingTxid string, vout uint32) {
	f.spends[spendKey(txid, vout)] = spendingTxid
}

func spendKey(txid string, vout uint32) string {
	return txid + ":" + string(rune('0'+vout))
}

func (f *fakeExplorer) GetTx(ctx context.Context, txid string) (models.Transaction, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, nil
}

func (f *fakeExplorer) GetSpendingTx(ctx context.Context, prevTxid string, vout uint32) (string, error) {
	txid, ok := f.spends[spendKey(prevTxid, vout)]
	if !ok {
		return "", models.ErrUnspent
	}
	return txid, nil
}

func (f *fakeExplorer) GetAddressTxs(ctx context.Context, address, cursor string) ([]string, string, error) {
	return f.addressIDs[address], "", nil
}

// fakeGraphWriter records every call it receives for assertions, never
// erroring, standing in for the Neo4j-backed C3 in unit tests.
type fakeGraphWriter struct {
	merged       []string
	relatedLinks []string
}

func (f *fakeGraphWriter) MergeTransaction(ctx context.Context, tx models.Transaction, v models.Verdict) error {
	f.merged = append(f.merged, tx.Txid)
	return nil
}
func (f *fakeGraphWriter) MergeAddress(ctx context.Context, address, tag string, seenAt int64) error {
	return nil
}
func (f *fakeGraphWriter) LinkInput(ctx context.Context, address, txid string) error  { return nil }
func (f *fakeGraphWriter) LinkOutput(ctx context.Context, txid, address string) error { return nil }
func (f *fakeGraphWriter) LinkRelated(ctx context.Context, address, txid string) error {
	f.relatedLinks = append(f.relatedLinks, address+"->"+txid)
	return nil
}

func newTestClassifier() *classify.Classifier {
	h := classify.NewHeuristic(classify.DefaultHeuristicConfig())
	ml := classify.NewMLDetector("", 0.7)
	return classify.NewClassifier(h, ml)
}

func baseConfig() Config {
	return Config{
		MaxDepth:                  5,
		MaxBranchesPerNode:        3,
		MaxTotalNodes:             50,
		MaxWallClock:              time.Second,
		ConsecutiveNonCoinJoinCap: 10,
		MaxOutputsPerTx:           10,
		MaxTxsPerAddress:          10,
		ExpansionWorkers:          2,
	}
}

func TestTracer_SeedWithZeroOutputsIsSingleExhaustedNode(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 0)
	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, baseConfig())

	root, meta, err := tr.InvestigateTx(context.Background(), "seed", "facade")
	require.NoError(t, err)

	assert.Equal(t, "seed", root.Transaction.Txid)
	assert.Empty(t, root.Children)
	assert.Equal(t, 1, meta.NodeCount)
	assert.Equal(t, models.TerminationExhausted, meta.TerminationReason)
	assert.Contains(t, gw.merged, "seed")
}

func TestTracer_DepthCapStopsExpansion(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 1)
	exp.addTx("child1", 1)
	exp.addTx("child2", 1)
	exp.chain("seed", "child1", 0)
	exp.chain("child1", "child2", 0)

	cfg := baseConfig()
	cfg.MaxDepth = 1

	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, cfg)

	root, meta, err := tr.InvestigateTx(context.Background(), "seed", "facade")
	require.NoError(t, err)

	require.Len(t, root.Children, 1)
	assert.Equal(t, "child1", root.Children[0].Transaction.Txid)
	assert.Empty(t, root.Children[0].Children)
	assert.Equal(t, models.TerminationDepth, meta.TerminationReason)
	assert.Equal(t, 1, meta.DepthReached)
}

func TestTracer_NodeBudgetStopsExpansion(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 1)
	exp.addTx("c1", 1)
	exp.addTx("c2", 1)
	exp.chain("seed", "c1", 0)
	exp.chain("c1", "c2", 0)

	cfg := baseConfig()
	cfg.MaxTotalNodes = 2

	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, cfg)

	_, meta, err := tr.InvestigateTx(context.Background(), "seed", "facade")
	require.NoError(t, err)

	assert.Equal(t, models.TerminationNodeBudget, meta.TerminationReason)
	assert.LessOrEqual(t, meta.NodeCount, 2)
}

func TestTracer_RevisitedTxidBecomesReferenceLeaf(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 2)
	exp.addTx("branch1", 1)
	exp.addTx("branch2", 1)
	exp.addTx("shared", 1)
	exp.chain("seed", "branch1", 0)
	exp.chain("seed", "branch2", 1)
	exp.chain("branch1", "shared", 0)
	exp.chain("branch2", "shared", 0)

	cfg := baseConfig()
	cfg.MaxBranchesPerNode = 2

	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, cfg)

	root, _, err := tr.InvestigateTx(context.Background(), "seed", "facade")
	require.NoError(t, err)

	require.Len(t, root.Children, 2)

	var sawRealShared, sawReferenceShared bool
	for _, branch := range root.Children {
		require.Len(t, branch.Children, 1)
		shared := branch.Children[0]
		require.Equal(t, "shared", shared.Transaction.Txid)
		if shared.Reference {
			sawReferenceShared = true
			assert.Empty(t, shared.Children)
		} else {
			sawRealShared = true
		}
	}
	assert.True(t, sawRealShared, "shared txid must appear once as a real node")
	assert.True(t, sawReferenceShared, "shared txid must appear again as a reference leaf")

	merges := 0
	for _, txid := range gw.merged {
		if txid == "shared" {
			merges++
		}
	}
	assert.Equal(t, 1, merges, "shared txid must only be persisted once")
}

func TestTracer_RelatedLinksWrittenForDescendantsNotSeed(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 1)
	exp.addTx("child", 1)
	exp.chain("seed", "child", 0)

	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, baseConfig())

	_, _, err := tr.InvestigateTx(context.Background(), "seed", "facade")
	require.NoError(t, err)

	assert.Contains(t, gw.relatedLinks, "in-child->seed")
	assert.Contains(t, gw.relatedLinks, "out-child->seed")
	for _, link := range gw.relatedLinks {
		assert.NotContains(t, link, "in-seed")
		assert.NotContains(t, link, "out-seed")
	}
}

func TestTracer_WithMaxDepthDoesNotMutateOriginal(t *testing.T) {
	exp := newFakeExplorer()
	exp.addTx("seed", 0)
	gw := &fakeGraphWriter{}
	c := cache.New(10, time.Minute)
	tr := New(exp, c, newTestClassifier(), gw, baseConfig())

	overridden := tr.WithMaxDepth(1)

	assert.Equal(t, baseConfig().MaxDepth, tr.cfg.MaxDepth)
	assert.Equal(t, 1, overridden.cfg.MaxDepth)
}
