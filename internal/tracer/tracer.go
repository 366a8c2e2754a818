// Package tracer implements the DFS Tracer (C7): forward-tracing from
// a seed transaction through the outputs-are-spent-by relation,
// grounded in original_source/api/coinjoin_investigator.py's
// build_tree_from_txid/_build_tree_recursive and dfs_investigation
// (consecutive-non-CoinJoin counter), re-expressed as a bounded
// worker-pool DFS per spec §4.7.
package tracer

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rawblock/coinjoin-tracer/internal/cache"
	"github.com/rawblock/coinjoin-tracer/internal/classify"
	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// Explorer is the subset of the Explorer Client (C1) the tracer needs,
// kept as a small interface so the DFS algorithm can be exercised in
// tests without real network I/O.
type Explorer interface {
	GetTx(ctx context.Context, txid string) (models.Transaction, error)
	GetSpendingTx(ctx context.Context, prevTxid string, vout uint32) (string, error)
	GetAddressTxs(ctx context.Context, address, cursor string) ([]string, string, error)
}

// GraphWriter is the subset of the Graph Writer (C3) the tracer needs.
type GraphWriter interface {
	MergeTransaction(ctx context.Context, tx models.Transaction, v models.Verdict) error
	MergeAddress(ctx context.Context, address, tag string, seenAt int64) error
	LinkInput(ctx context.Context, address, txid string) error
	LinkOutput(ctx context.Context, txid, address string) error
	LinkRelated(ctx context.Context, address, txid string) error
}

// Config holds the caps enumerated in spec §4.7.
type Config struct {
	MaxDepth                  int
	MaxBranchesPerNode        int
	MaxTotalNodes             int
	MaxWallClock              time.Duration
	ConsecutiveNonCoinJoinCap int
	MaxOutputsPerTx           int
	MaxTxsPerAddress          int
	ExpansionWorkers          int // B
}

type Tracer struct {
	explorer   Explorer
	cache      *cache.Cache
	classifier *classify.Classifier
	writer     GraphWriter
	cfg        Config
}

func New(exp Explorer, c *cache.Cache, cl *classify.Classifier, w GraphWriter, cfg Config) *Tracer {
	return &Tracer{explorer: exp, cache: c, classifier: cl, writer: w, cfg: cfg}
}

// WithMaxDepth returns a shallow copy of the tracer with MaxDepth
// overridden, used by the Engine Facade (C9) for per-request overrides
// without mutating the globally configured default (spec §4.9).
func (t *Tracer) WithMaxDepth(maxDepth int) *Tracer {
	cfg := t.cfg
	cfg.MaxDepth = maxDepth
	return &Tracer{explorer: t.explorer, cache: t.cache, classifier: t.classifier, writer: t.writer, cfg: cfg}
}

// run holds the mutable state of a single investigation (spec §5: "the
// visited-txid set inside a tracer run is per-run and never shared").
type run struct {
	cfg       Config
	rootTxid  string
	deadline  time.Time
	start     time.Time
	sem       *semaphore.Weighted
	mu        sync.Mutex
	visited   map[string]*models.TreeNode
	nodeCount int
	maxStreak int // longest per-path consecutive-non-CoinJoin run observed, for reporting only
	depthMax  int
	reason    string
	done      bool
}

func newRun(cfg Config) *run {
	return &run{
		cfg:      cfg,
		start:    time.Now(),
		deadline: time.Now().Add(cfg.MaxWallClock),
		sem:      semaphore.NewWeighted(int64(max1(cfg.ExpansionWorkers))),
		visited:  make(map[string]*models.TreeNode),
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// fetchAndClassify fetches a transaction (cache-first) and classifies
// it, persisting the result. Shared by the seed step and every child
// expansion.
func (t *Tracer) fetchAndClassify(ctx context.Context, txid string) (models.Transaction, models.Verdict, error) {
	if tx, res := t.cache.GetTransaction(txid); res == cache.Hit {
		v := t.classifier.Classify(tx)
		return tx, v, nil
	}
	tx, err := t.explorer.GetTx(ctx, txid)
	if err != nil {
		return models.Transaction{}, models.Verdict{}, err
	}
	t.cache.SetTransaction(tx)
	v := t.classifier.Classify(tx)
	return tx, v, nil
}

func (t *Tracer) persist(ctx context.Context, tx models.Transaction, v models.Verdict) {
	now := time.Now().Unix()
	if err := t.writer.MergeTransaction(ctx, tx, v); err != nil {
		return
	}
	tag := models.AddressTagRelated
	if v.IsCoinJoin {
		tag = models.AddressTagCoinJoin
	}
	for _, in := range tx.Inputs {
		if in.Address == "" {
			continue
		}
		_ = t.writer.MergeAddress(ctx, in.Address, tag, now)
		_ = t.writer.LinkInput(ctx, in.Address, tx.Txid)
	}
	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		_ = t.writer.MergeAddress(ctx, out.Address, tag, now)
		_ = t.writer.LinkOutput(ctx, tx.Txid, out.Address)
	}
}

// linkRelated records that every address touched by a non-seed
// transaction was discovered via tracing out of r.rootTxid rather than
// being a direct input/output of the seed itself (spec §3's
// RELATED_TO relation). Called only for children, never for the root.
func (t *Tracer) linkRelated(ctx context.Context, r *run, tx models.Transaction) {
	for _, in := range tx.Inputs {
		if in.Address == "" {
			continue
		}
		_ = t.writer.LinkRelated(ctx, in.Address, r.rootTxid)
	}
	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		_ = t.writer.LinkRelated(ctx, out.Address, r.rootTxid)
	}
}

// InvestigateTx runs the DFS from a seed txid (spec §4.7, algorithm
// steps 1-7).
func (t *Tracer) InvestigateTx(ctx context.Context, seedTxid string, source string) (*models.TreeNode, models.InvestigationMetadata, error) {
	r := newRun(t.cfg)
	r.rootTxid = seedTxid

	tx, v, err := t.fetchAndClassify(ctx, seedTxid)
	if err != nil {
		return nil, models.InvestigationMetadata{}, err
	}
	t.persist(ctx, tx, v)

	root := &models.TreeNode{Transaction: tx, Verdict: v, Depth: 0}
	r.visited[tx.Txid] = root
	r.nodeCount = 1

	ctx, cancel := context.WithDeadline(ctx, r.deadline)
	defer cancel()

	t.expand(ctx, r, root, 0)

	meta := models.InvestigationMetadata{
		RootID:                 seedTxid,
		Source:                 source,
		MaxDepth:                t.cfg.MaxDepth,
		MaxTotalNodes:           t.cfg.MaxTotalNodes,
		DepthReached:            r.depthMax,
		NodeCount:               r.nodeCount,
		ConsecutiveNonCoinJoin:  r.maxStreak,
		DurationMillis:          time.Since(r.start).Milliseconds(),
		TerminationReason:       r.finalReason(len(tx.Outputs) == 0),
	}
	return root, meta, nil
}

// InvestigateAddress expands an address's recent transactions as
// virtual roots, bounded by MaxTxsPerAddress (spec §4.7 "Address-seed
// mode").
func (t *Tracer) InvestigateAddress(ctx context.Context, address string, source string) ([]*models.TreeNode, models.InvestigationMetadata, error) {
	r := newRun(t.cfg)

	var ids []string
	if page, res := t.cache.GetAddressPage(address); res == cache.Hit {
		ids = page.Txids
	} else {
		fetched, next, err := t.explorer.GetAddressTxs(ctx, address, "")
		if err != nil {
			return nil, models.InvestigationMetadata{}, err
		}
		t.cache.SetAddressPage(address, cache.AddressPage{Txids: fetched, NextCursor: next})
		ids = fetched
	}
	if len(ids) > t.cfg.MaxTxsPerAddress {
		ids = ids[:t.cfg.MaxTxsPerAddress]
	}

	ctx, cancel := context.WithDeadline(ctx, r.deadline)
	defer cancel()

	var roots []*models.TreeNode
	for _, txid := range ids {
		if r.exceededGlobalCaps() {
			break
		}
		tx, v, err := t.fetchAndClassify(ctx, txid)
		if err != nil {
			continue
		}
		t.persist(ctx, tx, v)
		node := &models.TreeNode{Transaction: tx, Verdict: v, Depth: 0}
		r.visited[tx.Txid] = node
		r.nodeCount++
		roots = append(roots, node)

		// Each address-seed root is itself the seed of its own subtree
		// for RELATED_TO purposes (spec §3).
		r.rootTxid = tx.Txid
		t.expand(ctx, r, node, 0)
	}

	meta := models.InvestigationMetadata{
		RootID:                 address,
		Source:                 source,
		MaxDepth:                t.cfg.MaxDepth,
		MaxTotalNodes:           t.cfg.MaxTotalNodes,
		DepthReached:            r.depthMax,
		NodeCount:               r.nodeCount,
		ConsecutiveNonCoinJoin:  r.maxStreak,
		DurationMillis:          time.Since(r.start).Milliseconds(),
		TerminationReason:       r.finalReason(len(roots) == 0),
	}
	return roots, meta, nil
}

func (r *run) exceededGlobalCaps() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodeCount >= r.cfg.MaxTotalNodes {
		r.reason = models.TerminationNodeBudget
		return true
	}
	if time.Now().After(r.deadline) {
		r.reason = models.TerminationTimeout
		return true
	}
	return false
}

func (r *run) finalReason(exhausted bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason != "" {
		return r.reason
	}
	if exhausted {
		return models.TerminationExhausted
	}
	if r.maxStreak >= r.cfg.ConsecutiveNonCoinJoinCap {
		return models.TerminationNonCoinJoinStreak
	}
	return models.TerminationStackEmpty
}

// candidate is a preliminarily-classified child awaiting selection.
type candidate struct {
	txid string
	tx   models.Transaction
	v    models.Verdict
}

// expand is the DFS proper: it owns node via a stack discipline
// implemented with recursion (each call is one "pop" in spec's stack
// model), expanding node's outputs into up to MaxBranchesPerNode
// children, classifying them, then recursing. Every newly visited child
// is persisted, positive or not: addresses of a non-CoinJoin child are
// written with the related tag rather than skipped.
// consecNon is the count of consecutive non-CoinJoin classifications
// on the current DFS path leading to node (spec §4.7); it is threaded
// per call rather than held on run so sibling subtrees never observe
// each other's streaks, mirroring coinjoin_investigator.py's
// local_consecutive_normal recursive parameter.
func (t *Tracer) expand(ctx context.Context, r *run, node *models.TreeNode, consecNon int) {
	if node.Depth >= r.cfg.MaxDepth {
		r.noteReason(models.TerminationDepth)
		return
	}
	if r.exceededGlobalCaps() {
		return
	}
	if ctx.Err() != nil {
		r.noteReason(models.TerminationTimeout)
		return
	}

	outputs := node.Transaction.Outputs
	if len(outputs) > r.cfg.MaxOutputsPerTx {
		outputs = outputs[:r.cfg.MaxOutputsPerTx]
	}

	candidates := t.resolveChildren(ctx, r, node.Transaction.Txid, outputs)
	if len(candidates) == 0 {
		return
	}

	selected := selectBranches(candidates, r.cfg.MaxBranchesPerNode)

	for _, c := range selected {
		if r.exceededGlobalCaps() {
			return
		}
		r.mu.Lock()
		existing, seen := r.visited[c.txid]
		r.mu.Unlock()
		if seen {
			node.Children = append(node.Children, &models.TreeNode{
				Transaction: existing.Transaction,
				Verdict:     existing.Verdict,
				Depth:       node.Depth + 1,
				Reference:   true,
			})
			continue
		}

		t.persist(ctx, c.tx, c.v)
		t.linkRelated(ctx, r, c.tx)

		child := &models.TreeNode{Transaction: c.tx, Verdict: c.v, Depth: node.Depth + 1}

		childConsecNon := consecNon + 1
		if c.v.IsCoinJoin {
			childConsecNon = 0
		}
		streak := childConsecNon >= r.cfg.ConsecutiveNonCoinJoinCap

		r.mu.Lock()
		r.visited[c.txid] = child
		r.nodeCount++
		if child.Depth > r.depthMax {
			r.depthMax = child.Depth
		}
		if childConsecNon > r.maxStreak {
			r.maxStreak = childConsecNon
		}
		r.mu.Unlock()

		node.Children = append(node.Children, child)

		if streak {
			r.noteReason(models.TerminationNonCoinJoinStreak)
			continue
		}

		t.expand(ctx, r, child, childConsecNon)
	}
}

func (r *run) noteReason(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		r.reason = reason
	}
}

// resolveChildren resolves the spending transaction for each output
// and classifies it, using a bounded worker pool (spec §5's tracer
// per-request child-expansion workers, size B).
func (t *Tracer) resolveChildren(ctx context.Context, r *run, parentTxid string, outputs []models.TxOut) []candidate {
	var (
		mu      sync.Mutex
		results []candidate
		wg      sync.WaitGroup
	)

	for i := range outputs {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(vout uint32) {
			defer wg.Done()
			defer r.sem.Release(1)

			// Unspent/not-found/malformed outputs are terminal leaves for
			// this branch only (spec §7); they never abort the run.
			childTxid, err := t.explorer.GetSpendingTx(ctx, parentTxid, vout)
			if err != nil {
				return
			}
			tx, v, err := t.fetchAndClassify(ctx, childTxid)
			if err != nil {
				return
			}
			mu.Lock()
			results = append(results, candidate{txid: childTxid, tx: tx, v: v})
			mu.Unlock()
		}(uint32(i))
	}
	wg.Wait()
	return results
}

// selectBranches implements spec §4.7's branch-selection ordering:
// positive-classification first, then higher heuristic score, then
// ascending txid for determinism; at most max children are kept.
func selectBranches(candidates []candidate, max int) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.v.IsCoinJoin != b.v.IsCoinJoin {
			return a.v.IsCoinJoin
		}
		if a.v.Score != b.v.Score {
			return a.v.Score > b.v.Score
		}
		return a.txid < b.txid
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}
