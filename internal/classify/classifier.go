package classify

import "github.com/rawblock/coinjoin-tracer/pkg/models"

// Classifier composes the Heuristic Detector and ML Detector into a
// single verdict (C6), following the priority policy of spec §4.6.
type Classifier struct {
	heuristic *Heuristic
	ml        *MLDetector
}

func NewClassifier(h *Heuristic, ml *MLDetector) *Classifier {
	return &Classifier{heuristic: h, ml: ml}
}

// Classify is pure given the inputs and the loaded model; callers may
// memoise by txid (spec §4.6).
func (c *Classifier) Classify(tx models.Transaction) models.Verdict {
	v := c.heuristic.Classify(tx)

	// Either specialised detector already decided the verdict.
	if v.DetectionMethod == models.MethodWasabi || v.DetectionMethod == models.MethodSamourai {
		return v
	}

	if !c.ml.IsLoaded() {
		return v
	}

	pred, ok := c.ml.Predict(v.Score)
	if !ok {
		return v
	}

	heuristicPositive := v.Score > c.heuristic.PositiveScoreThreshold()
	threshold := c.ml.threshold
	switch {
	case heuristicPositive && pred.IsPositive:
		v.DetectionMethod = models.MethodCombined
		v.IsCoinJoin = true
		v.MLProbability = &pred.Probability
		v.MLThreshold = &threshold
	case heuristicPositive:
		v.DetectionMethod = models.MethodHeuristic
		v.IsCoinJoin = true
	case pred.IsPositive:
		v.DetectionMethod = models.MethodML
		v.IsCoinJoin = true
		v.MLProbability = &pred.Probability
		v.MLThreshold = &threshold
	default:
		v.DetectionMethod = models.MethodHeuristic
		v.IsCoinJoin = false
	}
	return v
}
