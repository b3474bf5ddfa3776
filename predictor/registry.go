package predictor

import (
	"time"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
)

// Deps are the shared collaborators handed to every predictor.
type Deps struct {
	LLM      llm.Provider
	Search   Searcher
	Embedder embedding.Provider
	// Model overrides loading cfg.Classical.ModelPath.
	Model *TreeEnsemble
}

// Build constructs the ensemble for the configured roster. Predictors not on
// the roster are not created, so their model files need not exist.
func Build(cfg config.EnsembleConfig, deps Deps) (*Ensemble, error) {
	available := map[string]func() (Predictor, error){}

	if cfg.Classical.Name != "" {
		c := cfg.Classical
		available[c.Name] = func() (Predictor, error) {
			if deps.Embedder == nil {
				return nil, errdefs.Configurationf("predictor %q needs an embedding provider", c.Name)
			}
			model := deps.Model
			if model == nil {
				var err error
				if model, err = LoadTreeEnsemble(c.ModelPath); err != nil {
					return nil, err
				}
			}
			return NewClassical(c.Name, model, deps.Embedder, c.Threshold), nil
		}
	}
	for _, mc := range cfg.Classifiers {
		mc := mc
		available[mc.Name] = func() (Predictor, error) {
			if deps.LLM == nil || deps.Search == nil {
				return nil, errdefs.Configurationf("predictor %q needs a chat and a search client", mc.Name)
			}
			return NewLLMClassifier(ClassifierOptions{
				Name:        mc.Name,
				Model:       mc.Model,
				Temperature: mc.Temperature,
				Index:       mc.Index,
				ExamplesTop: mc.ExamplesTop,
			}, deps.LLM, deps.Search), nil
		}
	}
	if cfg.Image.Name != "" {
		ic := cfg.Image
		available[ic.Name] = func() (Predictor, error) {
			if deps.LLM == nil {
				return nil, errdefs.Configurationf("predictor %q needs a chat client", ic.Name)
			}
			return NewImageAnalyzer(ic.Name, ic.Model, ic.Temperature, deps.LLM), nil
		}
	}

	predictors := make([]Predictor, 0, len(cfg.Roster))
	for _, name := range cfg.Roster {
		mk, ok := available[name]
		if !ok {
			return nil, errdefs.Configurationf("predictor %q is not configured", name)
		}
		p, err := mk()
		if err != nil {
			return nil, err
		}
		predictors = append(predictors, p)
	}
	logger.Infof("ensemble ready: roster=%v policy=%s", cfg.Roster, cfg.FailurePolicy)
	return NewEnsemble(predictors, cfg.FailurePolicy, config.Millis(cfg.TimeoutMs, 30*time.Second))
}
