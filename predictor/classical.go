package predictor

import (
	"context"
	"strings"
	"time"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/embedding"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/schema"
)

// Classical embeds the preprocessed text and scores it with a boosted tree
// model loaded once at startup.
type Classical struct {
	name      string
	model     *TreeEnsemble
	embedder  embedding.Provider
	threshold float64
}

func NewClassical(name string, model *TreeEnsemble, embedder embedding.Provider, threshold float64) *Classical {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	return &Classical{name: name, model: model, embedder: embedder, threshold: threshold}
}

func (c *Classical) Name() string { return c.name }

func (c *Classical) Predict(ctx context.Context, in Input) (schema.PredictionResult, error) {
	start := time.Now()
	if strings.TrimSpace(in.Text) == "" {
		return schema.PredictionResult{}, errdefs.InvalidInputf(c.name, "text is required")
	}
	processed := Preprocess(in.Text)
	if processed == "" {
		// nothing left after stopword removal
		processed = strings.ToLower(strings.TrimSpace(in.Text))
	}
	logger.Debugf("%s: preprocessed %q", c.name, processed)

	vec, err := c.embedder.GetEmbedding(ctx, processed)
	if err != nil {
		return schema.PredictionResult{}, errdefs.Upstream(c.name, err)
	}
	if n := c.model.NumFeature(); n > 0 && len(vec) != n {
		return schema.PredictionResult{}, errdefs.Configurationf("%s: embedding has %d dimensions, model expects %d", c.name, len(vec), n)
	}

	label := schema.LabelHam
	if c.model.Probability(vec) >= c.threshold {
		label = schema.LabelSpam
	}
	res := newResult(label, start)
	res.Metadata.InputText = in.Text
	return res, nil
}
