// Package classify implements the Heuristic Detector (C4), ML Detector
// (C5) and Classifier (C6), grounded structurally in
// original_source/api/detector_adapter.py's priority-ordered
// Wasabi > Samourai > combined-score decision, with the exact weights
// and thresholds of spec §4.4 (detector_adapter.py's own numeric
// constants are NOT used — spec.md's table is authoritative).
package classify

import (
	"math"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

// HeuristicConfig carries the configurable thresholds and denomination
// lists of spec §4.4 so they can be overridden without code changes.
// The indicator weights (0.20/0.20/0.30/0.20/0.10) and the Wasabi bonus
// (0.15) are fixed in Classify and detectWasabi and are not configurable.
type HeuristicConfig struct {
	ManyInputsThreshold    int
	ManyOutputsThreshold   int
	UniformityMaxDistinct  int
	DiversityMinAddresses  int
	LargeTxMinTotal        int
	PositiveScoreThreshold float64
	WasabiDenominations    []int64
	WasabiMinOutputs       int
	WhirlpoolDenominations []int64
}

func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		ManyInputsThreshold:    5,
		ManyOutputsThreshold:   5,
		UniformityMaxDistinct:  3,
		DiversityMinAddresses:  3,
		LargeTxMinTotal:        10,
		PositiveScoreThreshold: 0.6,
		WasabiDenominations:    []int64{10_000_000, 20_000_000, 50_000_000},
		WasabiMinOutputs:       5,
		WhirlpoolDenominations: []int64{100_000, 1_000_000, 5_000_000, 50_000_000},
	}
}

// Heuristic is the pure, deterministic detector of spec §4.4. It
// performs no I/O.
type Heuristic struct {
	cfg HeuristicConfig
}

func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	return &Heuristic{cfg: cfg}
}

func (h *Heuristic) PositiveScoreThreshold() float64 { return h.cfg.PositiveScoreThreshold }

func (h *Heuristic) Classify(tx models.Transaction) models.Verdict {
	ind := computeIndicators(tx)

	var score float64
	var reasons []string

	if ind.VinCount >= h.cfg.ManyInputsThreshold {
		score += 0.20
		reasons = append(reasons, "many inputs")
	}
	if ind.VoutCount >= h.cfg.ManyOutputsThreshold {
		score += 0.20
		reasons = append(reasons, "many outputs")
	}
	distinctOutputs := distinctOutputValueCount(tx)
	if distinctOutputs > 0 && distinctOutputs <= h.cfg.UniformityMaxDistinct {
		score += 0.30
		reasons = append(reasons, "output uniformity")
	}
	if ind.UniqueAddresses > h.cfg.DiversityMinAddresses {
		score += 0.20
		reasons = append(reasons, "input diversity")
	}
	if ind.VinCount+ind.VoutCount > h.cfg.LargeTxMinTotal {
		score += 0.10
		reasons = append(reasons, "large transaction")
	}
	// Round to the weights' two-decimal precision so float accumulation
	// cannot push the sum across a threshold (0.2+0.2+0.2 would otherwise
	// exceed 0.6, and the full table would sum to just under 1.0).
	score = math.Round(score*100) / 100

	v := models.Verdict{
		Score:      score,
		Reasons:    reasons,
		Indicators: ind,
	}

	if wasabi, bonus := h.detectWasabi(tx); wasabi {
		v.DetectionMethod = models.MethodWasabi
		v.IsCoinJoin = true
		v.Score += bonus
		v.Reasons = append(v.Reasons, "wasabi pattern")
		return v
	}

	if h.detectSamourai(tx) {
		v.DetectionMethod = models.MethodSamourai
		v.IsCoinJoin = true
		v.Reasons = append(v.Reasons, "samourai whirlpool pattern")
		return v
	}

	v.DetectionMethod = models.MethodHeuristic
	v.IsCoinJoin = score > h.cfg.PositiveScoreThreshold
	return v
}

func computeIndicators(tx models.Transaction) models.Indicators {
	addrs := make(map[string]struct{})
	for _, in := range tx.Inputs {
		if in.Address != "" {
			addrs[in.Address] = struct{}{}
		}
	}

	ind := models.Indicators{
		VinCount:        tx.VinCount(),
		VoutCount:       tx.VoutCount(),
		UniqueAddresses: len(addrs),
	}

	if n := tx.VoutCount(); n > 0 {
		distinct := distinctOutputValueCount(tx)
		ind.OutputUniformity = 1.0 - float64(distinct-1)/float64(n)
	}
	if n := tx.VinCount(); n > 0 {
		ind.InputDiversity = float64(len(addrs)) / float64(n)
	}

	total := ind.VinCount + ind.VoutCount
	switch {
	case total <= 4:
		ind.SizeClass = "small"
	case total <= 10:
		ind.SizeClass = "medium"
	default:
		ind.SizeClass = "large"
	}

	return ind
}

func distinctOutputValueCount(tx models.Transaction) int {
	seen := make(map[int64]struct{})
	for _, out := range tx.Outputs {
		seen[out.Value] = struct{}{}
	}
	return len(seen)
}

// detectWasabi implements spec §4.4's Wasabi pattern: some output value
// exactly equal to one of the configured WasabiDenominations appears in
// at least WasabiMinOutputs outputs. Values near, but not equal to, a
// denomination do not match, and whether that value dominates the
// other outputs is not checked.
func (h *Heuristic) detectWasabi(tx models.Transaction) (bool, float64) {
	counts := make(map[int64]int)
	for _, out := range tx.Outputs {
		counts[out.Value]++
	}
	for _, denom := range h.cfg.WasabiDenominations {
		if counts[denom] >= h.cfg.WasabiMinOutputs {
			return true, 0.15
		}
	}
	return false, 0
}

// detectSamourai implements spec §4.4's Samourai (Whirlpool) pattern:
// equal input/output count, all outputs a single value matching a
// known pool denomination.
func (h *Heuristic) detectSamourai(tx models.Transaction) bool {
	if tx.VinCount() != tx.VoutCount() || tx.VoutCount() == 0 {
		return false
	}
	first := tx.Outputs[0].Value
	for _, out := range tx.Outputs[1:] {
		if out.Value != first {
			return false
		}
	}
	for _, denom := range h.cfg.WhirlpoolDenominations {
		if first == denom {
			return true
		}
	}
	return false
}
