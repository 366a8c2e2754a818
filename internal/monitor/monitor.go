// Package monitor implements the Mempool Monitor (C8): a background
// ticker loop diffing mempool snapshots and dispatching new ids
// through the classifier and tracer, grounded in the teacher's
// internal/mempool/poller.go ticker+goroutine idiom and in
// original_source/api/mempool_monitor.py's processed_txids/
// trigger_investigation flow.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawblock/coinjoin-tracer/internal/classify"
	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// AlertFunc is invoked once, fire-and-forget, after a positive
// detection is persisted — the hook the Real-time Alert Fan-out (C13)
// attaches to (SPEC_FULL §4.13).
type AlertFunc func(models.Transaction, models.Verdict)

// Explorer is the subset of the Explorer Client (C1) the monitor needs.
type Explorer interface {
	GetMempoolTxids(ctx context.Context) (map[string]struct{}, error)
	GetTx(ctx context.Context, txid string) (models.Transaction, error)
}

// Tracer is the subset of the DFS Tracer (C7) the monitor needs.
type Tracer interface {
	InvestigateTx(ctx context.Context, seedTxid, source string) (*models.TreeNode, models.InvestigationMetadata, error)
}

type Config struct {
	TickInterval   time.Duration
	WorkerPoolSize int // W
	QueueCapacity  int
}

// Status backs the monitor's status() operation (spec §4.8).
type Status struct {
	Running    bool   `json:"running"`
	Processed  int64  `json:"processed"`
	Positive   int64  `json:"positive"`
	Dropped    int64  `json:"dropped"`
	LastTick   int64  `json:"lastTick"`
	LastError  string `json:"lastError,omitempty"`
}

type Monitor struct {
	explorer   Explorer
	classifier *classify.Classifier
	tracer     Tracer
	cfg        Config
	log        zerolog.Logger
	onAlert    AlertFunc

	mu       sync.Mutex
	lastSeen map[string]struct{}
	status   Status
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(exp Explorer, cl *classify.Classifier, tr Tracer, cfg Config, log zerolog.Logger, onAlert AlertFunc) *Monitor {
	return &Monitor{
		explorer:   exp,
		classifier: cl,
		tracer:     tr,
		cfg:        cfg,
		log:        log,
		onAlert:    onAlert,
		lastSeen:   make(map[string]struct{}),
	}
}

// Start launches the background loop. It is a no-op if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.status.Running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop honours a stop signal between ticks; workers drain (spec §5).
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.status.Running = false
	m.mu.Unlock()
}

func (m *Monitor) StatusSnapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, max1(m.cfg.WorkerPoolSize))
	queue := make(chan string, max1(m.cfg.QueueCapacity))

	var workerWg sync.WaitGroup
	for i := 0; i < max1(m.cfg.WorkerPoolSize); i++ {
		workerWg.Add(1)
		go m.worker(ctx, queue, sem, &workerWg)
	}

	for {
		select {
		case <-ctx.Done():
			close(queue)
			workerWg.Wait()
			return
		case <-ticker.C:
			m.tick(ctx, queue)
		}
	}
}

func (m *Monitor) worker(ctx context.Context, queue <-chan string, sem chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for txid := range queue {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		m.process(ctx, txid)
		<-sem
	}
}

func (m *Monitor) tick(ctx context.Context, queue chan string) {
	current, err := m.explorer.GetMempoolTxids(ctx)
	if err != nil {
		m.mu.Lock()
		m.status.LastError = err.Error()
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("mempool fetch failed")
		return
	}

	m.mu.Lock()
	previous := m.lastSeen
	m.mu.Unlock()

	var fresh []string
	for id := range current {
		if _, ok := previous[id]; !ok {
			fresh = append(fresh, id)
		}
	}

	var dropped int64
	for _, id := range fresh {
		select {
		case queue <- id:
		default:
			// Backpressure: drop the oldest pending ids in this tick;
			// correctness is unaffected because the id reappears in the
			// next snapshot until confirmed or evicted (spec §4.8).
			select {
			case <-queue:
				dropped++
			default:
			}
			select {
			case queue <- id:
			default:
				dropped++
			}
		}
	}

	m.mu.Lock()
	m.lastSeen = current
	m.status.LastTick = time.Now().Unix()
	m.status.Dropped += dropped
	m.mu.Unlock()
}

func (m *Monitor) process(ctx context.Context, txid string) {
	tx, err := m.explorer.GetTx(ctx, txid)
	if err != nil {
		return
	}

	v := m.classifier.Classify(tx)

	m.mu.Lock()
	m.status.Processed++
	m.mu.Unlock()

	if !v.IsCoinJoin {
		return
	}

	m.mu.Lock()
	m.status.Positive++
	m.mu.Unlock()

	_, _, err = m.tracer.InvestigateTx(ctx, txid, "monitor")
	if err != nil {
		m.log.Warn().Err(err).Str("txid", txid).Msg("trace failed")
		return
	}

	if m.onAlert != nil {
		m.onAlert(tx, v)
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
