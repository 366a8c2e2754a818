package classify

import (
	"encoding/json"
	"os"
)

// MLDetector is the optional ML Detector (C5), grounded in
// original_source/api/ml_detector.py's JsonPredictor fallback: rather
// than a trained binary classifier, the model is a JSON snapshot of
// detection parameters loaded once at startup. Predict derives its
// probability exclusively from the transaction body's structural
// features — no network I/O during inference (spec §4.5).
type MLDetector struct {
	loaded    bool
	threshold float64
	params    mlParams
}

type mlParams struct {
	DetectionParameters struct {
		OurScoreThreshold float64 `json:"our_score_threshold"`
	} `json:"detection_parameters"`
}

// NewMLDetector attempts to load modelPath. If the path is empty or
// the file cannot be read/parsed, the returned detector is disabled
// and Predict always reports unavailable, per spec §4.5.
func NewMLDetector(modelPath string, threshold float64) *MLDetector {
	d := &MLDetector{threshold: threshold}
	if modelPath == "" {
		return d
	}
	b, err := os.ReadFile(modelPath)
	if err != nil {
		return d
	}
	var p mlParams
	if err := json.Unmarshal(b, &p); err != nil {
		return d
	}
	d.params = p
	d.loaded = true
	return d
}

func (d *MLDetector) IsLoaded() bool { return d.loaded }

// Prediction mirrors ml_detector.py's predict_with_model return shape.
type Prediction struct {
	Probability float64
	IsPositive  bool
}

// Predict derives a probability from the heuristic's own structural
// score and the JSON model's calibration threshold (ml_detector.py's
// JsonPredictor.predict_from_tx), scaling the heuristic score by the
// configured threshold rather than running any network call.
func (d *MLDetector) Predict(heuristicScore float64) (Prediction, bool) {
	if !d.loaded {
		return Prediction{}, false
	}
	thr := d.params.DetectionParameters.OurScoreThreshold
	if thr <= 0 {
		thr = 0.7
	}
	prob := heuristicScore / thr
	if prob > 0.99 {
		prob = 0.99
	}
	return Prediction{
		Probability: prob,
		IsPositive:  prob >= d.threshold,
	}, true
}
