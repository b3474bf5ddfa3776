package schema

import "encoding/json"

// Labels produced by every predictor.
const (
	LabelSpam = "spam"
	LabelHam  = "ham"
)

// PredictionMetadata carries per-predictor diagnostics.
type PredictionMetadata struct {
	Latency     float64 `json:"time,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
	InputText   string  `json:"input_text,omitempty"`
}

// PredictionResult is one predictor's output for one request. A zero value with
// Empty set is the explicit no-op marker and serialises as {}.
type PredictionResult struct {
	ID       string             `json:"id_pred,omitempty"`
	Result   string             `json:"result,omitempty"`
	Metadata PredictionMetadata `json:"metadata,omitempty"`
	Error    string             `json:"error,omitempty"`
	Empty    bool               `json:"-"`
}

// EmptyPrediction is the marker for a predictor that had nothing to do.
func EmptyPrediction() PredictionResult { return PredictionResult{Empty: true} }

// Failed reports whether the slot carries an error marker.
func (p PredictionResult) Failed() bool { return p.Error != "" }

func (p PredictionResult) MarshalJSON() ([]byte, error) {
	if p.Empty {
		return []byte("{}"), nil
	}
	type alias PredictionResult
	return json.Marshal(alias(p))
}

// EnsembleResponse maps predictor name to its result.
type EnsembleResponse map[string]PredictionResult
