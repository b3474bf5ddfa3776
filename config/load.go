package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML or JSON file over the defaults, applies environment
// overrides and validates the result. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s failed, err: %w", path, err)
		}
		if err := Parse(raw, filepath.Ext(path), cfg); err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw into cfg. ext selects JSON for ".json", YAML otherwise.
func Parse(raw []byte, ext string, cfg *Config) error {
	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(raw, cfg)
	} else {
		err = yaml.Unmarshal(raw, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config failed, err: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets and endpoints from the environment. Secrets already set
// in the file win over the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.LLM.APIKey, "OPENAI_API_KEY", "OPENAI_KEY", "AZURE_OPENAI_API_KEY")
	set(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	set(&cfg.Embedding.APIKey, "OPENAI_API_KEY", "OPENAI_KEY")
	set(&cfg.Embedding.BaseURL, "OPENAI_BASE_URL")
	set(&cfg.Search.APIKey, "SEARCH_API_KEY", "AZURE_SEARCH_KEY")
	set(&cfg.Search.Endpoint, "SEARCH_ENDPOINT")
	if cfg.Search.Endpoint == "" {
		if svc, ok := lookup("AZURE_SEARCH_SERVICE"); ok && svc != "" {
			cfg.Search.Endpoint = "https://" + svc + ".search.windows.net"
		}
	}
	set(&cfg.Search.Milvus.Password, "MILVUS_PASSWORD")
	set(&cfg.Memory.Redis.Password, "REDIS_PASSWORD")
	// Defaults exist for these, so the environment always wins.
	if v, ok := lookup("STORE_DSN"); ok && v != "" {
		cfg.Store.DSN = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		cfg.Memory.Redis.Addr = v
	}
}
