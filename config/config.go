package config

import "time"

// Config represents the main configuration structure for the service
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Search     SearchConfig     `json:"search" yaml:"search"`
	RAG        RAGConfig        `json:"rag" yaml:"rag"`
	Ensemble   EnsembleConfig   `json:"ensemble" yaml:"ensemble"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`
	// HTTP holds defaults for outbound REST calls to the search service.
	HTTP HTTPClientConfig `json:"http" yaml:"http"`
}

// ServerConfig defines the listening addresses of the HTTP and MCP boundaries.
type ServerConfig struct {
	HTTPAddr          string `json:"http_addr" yaml:"http_addr"`
	MCPAddr           string `json:"mcp_addr,omitempty" yaml:"mcp_addr,omitempty"`
	Debug             bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
	ShutdownTimeoutMs int    `json:"shutdown_timeout_ms,omitempty" yaml:"shutdown_timeout_ms,omitempty"`
	// PersistPredictions stores every ensemble response in the record store in the background.
	PersistPredictions bool `json:"persist_predictions,omitempty" yaml:"persist_predictions,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or console
}

// LLMConfig defines configuration for the hosted chat-completion service
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // Available options: openai, azure
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIVersion  string  `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Seed        int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	TimeoutMs   int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// EmbeddingConfig defines configuration for embedding models
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // Available options: openai
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	TimeoutMs  int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// SearchConfig defines the vector search service and its index schemas
type SearchConfig struct {
	Provider   string                 `json:"provider" yaml:"provider"` // Available options: azure, milvus
	Endpoint   string                 `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	APIKey     string                 `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIVersion string                 `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	TimeoutMs  int                    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Milvus     MilvusConfig           `json:"milvus,omitempty" yaml:"milvus,omitempty"`
	Indexes    map[string]IndexConfig `json:"indexes" yaml:"indexes"`
}

// MilvusConfig holds connection and search parameters for the milvus backend.
type MilvusConfig struct {
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	MetricType string `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
	// Ef is the HNSW search breadth.
	Ef int `json:"ef,omitempty" yaml:"ef,omitempty"`
}

// IndexConfig describes one search index: which fields are returned, which may
// be filtered on, and how documents are identified and grouped.
type IndexConfig struct {
	// Name is the physical index or collection name.
	Name        string   `json:"name" yaml:"name"`
	IDField     string   `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	VectorField string   `json:"vector_field" yaml:"vector_field"`
	TextFields  []string `json:"text_fields,omitempty" yaml:"text_fields,omitempty"`
	Select      []string `json:"select,omitempty" yaml:"select,omitempty"`
	Filterable  []string `json:"filterable,omitempty" yaml:"filterable,omitempty"`
	// KeyFields define content identity for deduplication.
	KeyFields []string `json:"key_fields,omitempty" yaml:"key_fields,omitempty"`
	// CategoryFields define the combinations used by refine-by-categories.
	CategoryFields []string `json:"category_fields,omitempty" yaml:"category_fields,omitempty"`
	// BaseFilter is an equality constraint applied to every query on the index.
	BaseFilter map[string]string `json:"base_filter,omitempty" yaml:"base_filter,omitempty"`
}

// RAGConfig contains configuration for the conversational pipeline
type RAGConfig struct {
	Index       string `json:"index" yaml:"index"`
	KTop        int    `json:"k_top" yaml:"k_top"`
	Hybrid      bool   `json:"hybrid" yaml:"hybrid"`
	CurrentYear int    `json:"current_year" yaml:"current_year"`
	MinQueries  int    `json:"min_queries" yaml:"min_queries"`
	// GroupBy and GroupCap bound how many hits per group reach the context.
	GroupBy            []string `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	GroupCap           int      `json:"group_cap,omitempty" yaml:"group_cap,omitempty"`
	ContextTokenBudget int      `json:"context_token_budget,omitempty" yaml:"context_token_budget,omitempty"`
	TokenizerModel     string   `json:"tokenizer_model,omitempty" yaml:"tokenizer_model,omitempty"`
	StageTimeoutMs     int      `json:"stage_timeout_ms,omitempty" yaml:"stage_timeout_ms,omitempty"`
	SearchTimeoutMs    int      `json:"search_timeout_ms,omitempty" yaml:"search_timeout_ms,omitempty"`
	Condense           StageLLM `json:"condense" yaml:"condense"`
	Expand             StageLLM `json:"expand" yaml:"expand"`
	Synthesis          StageLLM `json:"synthesis" yaml:"synthesis"`
	Followup           StageLLM `json:"followup" yaml:"followup"`
}

// StageLLM selects the model and sampling for one pipeline stage.
type StageLLM struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// EnsembleConfig defines the predictor roster
type EnsembleConfig struct {
	Roster []string `json:"roster" yaml:"roster"`
	// FailurePolicy is "partial" (failed slots carry an error marker) or "abort".
	FailurePolicy string                  `json:"failure_policy" yaml:"failure_policy"`
	TimeoutMs     int                     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Classical     ClassicalConfig         `json:"classical" yaml:"classical"`
	Classifiers   []ClassifierModelConfig `json:"classifiers" yaml:"classifiers"`
	Image         ImageConfig             `json:"image" yaml:"image"`
}

type ClassicalConfig struct {
	Name      string  `json:"name" yaml:"name"`
	ModelPath string  `json:"model_path" yaml:"model_path"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

type ClassifierModelConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Index       string  `json:"index" yaml:"index"`
	ExamplesTop int     `json:"examples_top" yaml:"examples_top"`
}

type ImageConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// MemoryConfig defines conversation memory storage
type MemoryConfig struct {
	Store       string      `json:"store" yaml:"store"` // memory or redis
	LastNRounds int         `json:"last_n_rounds" yaml:"last_n_rounds"`
	TTLSeconds  int         `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// CacheConfig controls the embedding L1 cache.
type CacheConfig struct {
	Capacity   int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	TTLSeconds int `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// StoreConfig selects the document database for evaluation records.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `json:"dsn" yaml:"dsn"`
}

type EvaluationConfig struct {
	Dataset          string `json:"dataset" yaml:"dataset"`
	AssistantDataset string `json:"assistant_dataset,omitempty" yaml:"assistant_dataset,omitempty"`
	SampleSize       int    `json:"sample_size" yaml:"sample_size"`
	Seed             int64  `json:"seed" yaml:"seed"`
	RetryDelayMs     int    `json:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// HTTPClientConfig defines common options for outbound HTTP calls.
type HTTPClientConfig struct {
	TimeoutMs              int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry                  int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	BackoffMinMs           int      `json:"backoff_min_ms,omitempty" yaml:"backoff_min_ms,omitempty"`
	BackoffMaxMs           int      `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	HostAllowlist          []string `json:"host_allowlist,omitempty" yaml:"host_allowlist,omitempty"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	CircuitOpenSeconds     int      `json:"circuit_open_seconds,omitempty" yaml:"circuit_open_seconds,omitempty"`
}

// Millis converts a millisecond setting to a duration, falling back to def when unset.
func Millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Index returns the schema registered under name.
func (s SearchConfig) Index(name string) (IndexConfig, bool) {
	ic, ok := s.Indexes[name]
	return ic, ok
}

func (i IndexConfig) IsFilterable(field string) bool {
	for _, f := range i.Filterable {
		if f == field {
			return true
		}
	}
	return false
}
