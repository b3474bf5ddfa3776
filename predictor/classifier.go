package predictor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/structured"
)

// normalizeLabel maps a model reply onto spam/ham.
func normalizeLabel(raw string) (string, error) {
	l := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `."'`))
	switch l {
	case schema.LabelSpam, schema.LabelHam:
		return l, nil
	}
	return "", fmt.Errorf("classification %q is neither spam nor ham", raw)
}

// LLMClassifier retrieves labelled neighbours from the message index and uses
// them as few-shot examples for a hosted model.
type LLMClassifier struct {
	name        string
	model       string
	temperature float64
	index       string
	top         int
	llm         llm.Provider
	searcher    Searcher
}

type ClassifierOptions struct {
	Name        string
	Model       string
	Temperature float64
	Index       string
	ExamplesTop int
}

func NewLLMClassifier(opts ClassifierOptions, provider llm.Provider, searcher Searcher) *LLMClassifier {
	top := opts.ExamplesTop
	if top <= 0 {
		top = 50
	}
	return &LLMClassifier{
		name:        opts.Name,
		model:       opts.Model,
		temperature: opts.Temperature,
		index:       opts.Index,
		top:         top,
		llm:         provider,
		searcher:    searcher,
	}
}

func (c *LLMClassifier) Name() string { return c.name }

func (c *LLMClassifier) Predict(ctx context.Context, in Input) (schema.PredictionResult, error) {
	start := time.Now()
	if strings.TrimSpace(in.Text) == "" {
		return schema.PredictionResult{}, errdefs.InvalidInputf(c.name, "text is required")
	}
	hits, err := c.searcher.Search(ctx, c.index, search.Query{Text: in.Text, K: c.top, Hybrid: true})
	if err != nil {
		return schema.PredictionResult{}, err
	}

	out, err := structured.Invoke[ClassificationOutput](ctx, c.llm, "ClassificationOutput", structured.Prompt{
		System:   classifierSystemPrompt,
		Examples: fewShotExamples(hits),
		Human:    "new message: " + in.Text,
	}, structured.Options{Model: c.model, Temperature: llm.Float(c.temperature)})
	if err != nil {
		return schema.PredictionResult{}, err
	}
	label, err := normalizeLabel(out.Classification)
	if err != nil {
		return schema.PredictionResult{}, errdefs.StructuredOutputParse(c.name, err)
	}
	res := newResult(label, start)
	res.Metadata.Explanation = out.Explanation
	return res, nil
}

func fewShotExamples(hits []schema.SearchHit) []structured.Example {
	out := make([]structured.Example, 0, len(hits))
	for _, h := range hits {
		msg, label := h.String("message"), h.String("label")
		if msg == "" || label == "" {
			continue
		}
		out = append(out, structured.Example{
			Input: "message: " + msg,
			Output: ClassificationOutput{
				Classification: label,
				Explanation:    "Labelled " + label + " in the reference set.",
			},
		})
	}
	return out
}

// ImageAnalyzer classifies an optional image. Without an image it returns the
// empty marker.
type ImageAnalyzer struct {
	name        string
	model       string
	temperature float64
	llm         llm.Provider
}

func NewImageAnalyzer(name, model string, temperature float64, provider llm.Provider) *ImageAnalyzer {
	return &ImageAnalyzer{name: name, model: model, temperature: temperature, llm: provider}
}

func (a *ImageAnalyzer) Name() string { return a.name }

func (a *ImageAnalyzer) UsesImage() bool { return true }

func (a *ImageAnalyzer) Predict(ctx context.Context, in Input) (schema.PredictionResult, error) {
	if in.Image == "" {
		return schema.EmptyPrediction(), nil
	}
	start := time.Now()
	out, err := structured.Invoke[ClassificationOutput](ctx, a.llm, "ClassificationOutput", structured.Prompt{
		Human:       imageAnalysisPrompt,
		ImageBase64: in.Image,
		ImageMIME:   in.ImageMIME,
	}, structured.Options{Model: a.model, Temperature: llm.Float(a.temperature)})
	if err != nil {
		return schema.PredictionResult{}, err
	}
	label, err := normalizeLabel(out.Classification)
	if err != nil {
		return schema.PredictionResult{}, errdefs.StructuredOutputParse(a.name, err)
	}
	res := newResult(label, start)
	res.Metadata.Explanation = out.Explanation
	return res, nil
}
