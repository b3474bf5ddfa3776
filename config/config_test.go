package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamguard/spamrag/errdefs"
)

func validConfig() *Config {
	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.Embedding.APIKey = "sk-test"
	cfg.Search.Endpoint = "https://search.example.net"
	cfg.Search.APIKey = "key"
	return cfg
}

func TestDefaultIsValidOnceSecretsAreSet(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestDefaultLiveHTTPDoesNotRetry(t *testing.T) {
	assert.Zero(t, Default().HTTP.Retry)
}

func TestValidateMissingSecretsIsConfigurationError(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["llm.api_key"])
	assert.True(t, fields["search.endpoint"])
}

func TestValidateEnsembleRoster(t *testing.T) {
	cfg := validConfig()
	cfg.Ensemble.Roster = append(cfg.Ensemble.Roster, "bert", "xgboost")
	cfg.Ensemble.FailurePolicy = "ignore"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `predictor "bert" is not configured`)
	assert.Contains(t, err.Error(), `predictor "xgboost" listed twice`)
	assert.Contains(t, err.Error(), "failure_policy")
}

func TestValidateRejectsNonFilterableBaseFilter(t *testing.T) {
	cfg := validConfig()
	idx := cfg.Search.Indexes["messages"]
	idx.BaseFilter = map[string]string{"message": "x"}
	cfg.Search.Indexes["messages"] = idx

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "message" is not filterable`)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  api_key: sk-file
  model: gpt-4o
embedding:
  provider: openai
  model: text-embedding-3-small
  api_key: sk-file
rag:
  index: knowledge
  k_top: 5
  min_queries: 3
  current_year: 2025
search:
  provider: azure
  endpoint: https://search.example.net
  api_key: file-key
ensemble:
  failure_policy: abort
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RAG.KTop)
	assert.Equal(t, 2025, cfg.RAG.CurrentYear)
	assert.Equal(t, FailurePolicyAbort, cfg.Ensemble.FailurePolicy)
	// untouched defaults survive
	assert.Equal(t, "gpt-4o-mini", cfg.RAG.Followup.Model)
	assert.Contains(t, cfg.Search.Indexes, "classification")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"OPENAI_KEY":           "sk-env",
		"AZURE_SEARCH_SERVICE": "acme",
		"AZURE_SEARCH_KEY":     "search-env",
		"STORE_DSN":            "host=db user=app",
	}
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "sk-env", cfg.Embedding.APIKey)
	assert.Equal(t, "https://acme.search.windows.net", cfg.Search.Endpoint)
	assert.Equal(t, "search-env", cfg.Search.APIKey)
	assert.Equal(t, "host=db user=app", cfg.Store.DSN)
}
