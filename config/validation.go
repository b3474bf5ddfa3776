package config

import (
	"fmt"
	"strings"

	"github.com/spamguard/spamrag/errdefs"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

// Validate validates the complete configuration. Failures are reported as a
// ConfigurationError wrapping ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateSearch()...)
	errs = append(errs, c.validateRAG()...)
	errs = append(errs, c.validateEnsemble()...)
	errs = append(errs, c.validateMemory()...)
	errs = append(errs, c.validateStore()...)
	if len(errs) > 0 {
		return errdefs.Configuration("validate", errs)
	}
	return nil
}

func (c *Config) validateLLM() ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "azure":
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unsupported llm provider %q", c.LLM.Provider),
		})
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.api_key",
			Message: "llm api key is required",
		})
	}
	if strings.EqualFold(c.LLM.Provider, "azure") && c.LLM.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.base_url",
			Message: "base_url is required for azure provider",
		})
	}
	return errs
}

// validateEmbedding validates embedding configuration
func (c *Config) validateEmbedding() ValidationErrors {
	var errs ValidationErrors

	if c.Embedding.Provider == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: "embedding provider is required",
		})
	}

	if c.Embedding.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.model",
			Message: "embedding model is required",
		})
	}

	if c.Embedding.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.api_key",
			Message: "embedding api key is required",
		})
	}

	if c.Embedding.Dimensions < 0 || c.Embedding.Dimensions > 4096 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("embedding dimensions %d is outside range [0, 4096]", c.Embedding.Dimensions),
		})
	}

	return errs
}

func (c *Config) validateSearch() ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(c.Search.Provider) {
	case "azure":
		if c.Search.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "search.endpoint",
				Message: "search endpoint is required for azure provider",
			})
		}
		if c.Search.APIKey == "" {
			errs = append(errs, ValidationError{
				Field:   "search.api_key",
				Message: "search api key is required for azure provider",
			})
		}
	case "milvus":
		if c.Search.Milvus.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "search.milvus.host",
				Message: "milvus host is required for milvus provider",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "search.provider",
			Message: fmt.Sprintf("unsupported search provider %q", c.Search.Provider),
		})
	}

	for key, idx := range c.Search.Indexes {
		if idx.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("search.indexes.%s.name", key),
				Message: "index name is required",
			})
		}
		if idx.VectorField == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("search.indexes.%s.vector_field", key),
				Message: "vector field is required",
			})
		}
		for f := range idx.BaseFilter {
			if !idx.IsFilterable(f) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("search.indexes.%s.base_filter", key),
					Message: fmt.Sprintf("field %q is not filterable", f),
				})
			}
		}
	}
	return errs
}

// validateRAG validates RAG configuration
func (c *Config) validateRAG() ValidationErrors {
	var errs ValidationErrors

	if _, ok := c.Search.Index(c.RAG.Index); !ok {
		errs = append(errs, ValidationError{
			Field:   "rag.index",
			Message: fmt.Sprintf("index %q is not defined under search.indexes", c.RAG.Index),
		})
	}

	if c.RAG.KTop <= 0 || c.RAG.KTop > 100 {
		errs = append(errs, ValidationError{
			Field:   "rag.k_top",
			Message: fmt.Sprintf("rag.k_top must be in [1, 100], got %d", c.RAG.KTop),
		})
	}

	if c.RAG.MinQueries < 1 {
		errs = append(errs, ValidationError{
			Field:   "rag.min_queries",
			Message: fmt.Sprintf("rag.min_queries must be positive, got %d", c.RAG.MinQueries),
		})
	}

	if c.RAG.CurrentYear <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rag.current_year",
			Message: "rag.current_year is required",
		})
	}

	for name, st := range map[string]StageLLM{
		"condense":  c.RAG.Condense,
		"expand":    c.RAG.Expand,
		"synthesis": c.RAG.Synthesis,
		"followup":  c.RAG.Followup,
	} {
		if st.Model == "" {
			errs = append(errs, ValidationError{
				Field:   "rag." + name + ".model",
				Message: "stage model is required",
			})
		}
		if st.Temperature < 0 || st.Temperature > 2 {
			errs = append(errs, ValidationError{
				Field:   "rag." + name + ".temperature",
				Message: fmt.Sprintf("temperature must be in [0, 2], got %.2f", st.Temperature),
			})
		}
	}

	return errs
}

func (c *Config) validateEnsemble() ValidationErrors {
	var errs ValidationErrors
	e := c.Ensemble

	switch e.FailurePolicy {
	case FailurePolicyPartial, FailurePolicyAbort:
	default:
		errs = append(errs, ValidationError{
			Field:   "ensemble.failure_policy",
			Message: fmt.Sprintf("failure_policy must be %q or %q, got %q", FailurePolicyPartial, FailurePolicyAbort, e.FailurePolicy),
		})
	}

	known := map[string]bool{}
	if e.Classical.Name != "" {
		known[e.Classical.Name] = true
	}
	if e.Image.Name != "" {
		known[e.Image.Name] = true
	}
	for i, cl := range e.Classifiers {
		if cl.Name == "" || cl.Model == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ensemble.classifiers[%d]", i),
				Message: "classifier name and model are required",
			})
			continue
		}
		if _, ok := c.Search.Index(cl.Index); !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ensemble.classifiers[%d].index", i),
				Message: fmt.Sprintf("index %q is not defined under search.indexes", cl.Index),
			})
		}
		known[cl.Name] = true
	}

	if len(e.Roster) == 0 {
		errs = append(errs, ValidationError{
			Field:   "ensemble.roster",
			Message: "roster must name at least one predictor",
		})
	}
	seen := map[string]bool{}
	for _, name := range e.Roster {
		if !known[name] {
			errs = append(errs, ValidationError{
				Field:   "ensemble.roster",
				Message: fmt.Sprintf("predictor %q is not configured", name),
			})
		}
		if seen[name] {
			errs = append(errs, ValidationError{
				Field:   "ensemble.roster",
				Message: fmt.Sprintf("predictor %q listed twice", name),
			})
		}
		seen[name] = true
	}
	return errs
}

func (c *Config) validateMemory() ValidationErrors {
	var errs ValidationErrors
	switch c.Memory.Store {
	case "", "memory":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			errs = append(errs, ValidationError{
				Field:   "memory.redis.addr",
				Message: "redis address is required for redis store",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "memory.store",
			Message: fmt.Sprintf("unsupported memory store %q", c.Memory.Store),
		})
	}
	return errs
}

func (c *Config) validateStore() ValidationErrors {
	var errs ValidationErrors
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "store.dsn",
				Message: "store dsn is required",
			})
		}
	case "":
	default:
		errs = append(errs, ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unsupported store driver %q", c.Store.Driver),
		})
	}
	return errs
}
