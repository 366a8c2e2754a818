package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

func TestClassifier_FallsBackToHeuristicWhenMLUnloaded(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	ml := NewMLDetector("", 0.7) // empty path -> never loads
	c := NewClassifier(h, ml)

	tx := txWithOutputs(6, 6, []int64{1, 2, 3, 4, 5, 6})
	v := c.Classify(tx)

	assert.Nil(t, v.MLProbability)
	assert.Equal(t, models.MethodHeuristic, v.DetectionMethod)
}

func TestClassifier_SpecialisedDetectorShortCircuitsML(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	ml := NewMLDetector("", 0.7)
	c := NewClassifier(h, ml)

	outs := []int64{100_000, 100_000, 100_000, 100_000, 100_000}
	tx := txWithOutputs(5, 5, outs)

	v := c.Classify(tx)

	assert.Equal(t, models.MethodSamourai, v.DetectionMethod)
	assert.Nil(t, v.MLProbability)
}
