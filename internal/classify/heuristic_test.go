package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

func txWithOutputs(vinCount int, inputAddrs int, outputValues []int64) models.Transaction {
	tx := models.Transaction{}
	for i := 0; i < vinCount; i++ {
		addr := "addr-in-0"
		if inputAddrs > 0 {
			addr = "addr-in-" + string(rune('a'+i%inputAddrs))
		}
		tx.Inputs = append(tx.Inputs, models.TxIn{Address: addr, Value: 1_000_000})
	}
	for _, v := range outputValues {
		tx.Outputs = append(tx.Outputs, models.TxOut{Address: "addr-out", Value: v})
	}
	return tx
}

// Scenario 1 (spec §8): heuristic-only positive.
func TestHeuristic_HeuristicOnlyPositive(t *testing.T) {
	h := NewHeuristic(HeuristicConfig{
		ManyInputsThreshold:    5,
		ManyOutputsThreshold:   5,
		UniformityMaxDistinct:  3,
		DiversityMinAddresses:  3,
		LargeTxMinTotal:        10,
		PositiveScoreThreshold: 0.6,
		// Deliberately exclude the output value from the Wasabi
		// denomination list so this case exercises the base heuristic
		// in isolation, as spec §8's scenario 1 requires.
		WasabiDenominations:    []int64{20_000_000},
		WasabiMinOutputs:       5,
		WhirlpoolDenominations: []int64{},
	})

	outs := make([]int64, 8)
	for i := range outs {
		outs[i] = 10_000_000
	}
	tx := txWithOutputs(8, 8, outs)

	v := h.Classify(tx)

	assert.True(t, v.IsCoinJoin)
	assert.Equal(t, models.MethodHeuristic, v.DetectionMethod)
	assert.GreaterOrEqual(t, v.Score, 1.0)
	assert.Contains(t, v.Reasons, "many inputs")
	assert.Contains(t, v.Reasons, "many outputs")
	assert.Contains(t, v.Reasons, "output uniformity")
	assert.Contains(t, v.Reasons, "input diversity")
}

// Scenario 2: Wasabi pattern.
func TestHeuristic_Wasabi(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	outs := []int64{10_000_000, 10_000_000, 10_000_000, 10_000_000, 10_000_000,
		10_000_000, 10_000_000, 10_000_000, 10_000_000, 10_000_000, 123_456}
	tx := txWithOutputs(3, 3, outs)

	v := h.Classify(tx)

	assert.True(t, v.IsCoinJoin)
	assert.Equal(t, models.MethodWasabi, v.DetectionMethod)
	assert.Greater(t, v.Score, 0.0)
}

// Scenario 3: Samourai Whirlpool.
func TestHeuristic_Samourai(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	outs := []int64{100_000, 100_000, 100_000, 100_000, 100_000}
	tx := txWithOutputs(5, 5, outs)

	v := h.Classify(tx)

	assert.True(t, v.IsCoinJoin)
	assert.Equal(t, models.MethodSamourai, v.DetectionMethod)
}

// Scenario 4: negative trivial.
func TestHeuristic_NegativeTrivial(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	tx := txWithOutputs(1, 1, []int64{50_000_000, 9_950_000})

	v := h.Classify(tx)

	assert.False(t, v.IsCoinJoin)
	assert.LessOrEqual(t, v.Score, 0.3)
	assert.NotContains(t, v.Reasons, "many inputs")
}

func TestHeuristic_Determinism(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	tx := txWithOutputs(6, 6, []int64{1, 2, 3, 4, 5, 6})

	first := h.Classify(tx)
	second := h.Classify(tx)

	assert.Equal(t, first, second)
}
