// Package predictor classifies messages as spam or ham with an ensemble of
// independent predictors.
package predictor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
)

// Input is one classification request. Image is base64 without a data: prefix
// once the ensemble has validated it.
type Input struct {
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	ImageMIME string `json:"-"`
}

type Predictor interface {
	Name() string
	Predict(ctx context.Context, in Input) (schema.PredictionResult, error)
}

// imagePredictor is implemented by predictors that classify the image payload
// rather than the text.
type imagePredictor interface {
	UsesImage() bool
}

// Searcher is the part of the search client the LLM classifiers need.
type Searcher interface {
	Search(ctx context.Context, index string, q search.Query) ([]schema.SearchHit, error)
}

// ClassificationOutput is the structured reply of every LLM-backed predictor.
type ClassificationOutput struct {
	Classification string `json:"Classification" jsonschema:"description=Determine if the input text is spam or not. Should be either 'spam' or 'ham'"`
	Explanation    string `json:"Explanation" jsonschema:"description=Explain why the input text is spam or ham"`
}

func newResult(label string, start time.Time) schema.PredictionResult {
	return schema.PredictionResult{
		ID:       uuid.NewString(),
		Result:   label,
		Metadata: schema.PredictionMetadata{Latency: time.Since(start).Seconds()},
	}
}
