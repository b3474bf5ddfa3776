package config

// Policies accepted by EnsembleConfig.FailurePolicy.
const (
	FailurePolicyPartial = "partial"
	FailurePolicyAbort   = "abort"
)

// Default returns the configuration used when a field is not set in the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          ":8000",
			ShutdownTimeoutMs: 10000,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.5,
			MaxTokens:   2048,
			Seed:        42,
			TimeoutMs:   60000,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			TimeoutMs:  15000,
		},
		Search: SearchConfig{
			Provider:   "azure",
			APIVersion: "2023-11-01",
			TimeoutMs:  15000,
			Milvus: MilvusConfig{
				Port:       19530,
				MetricType: "IP",
				Ef:         64,
			},
			Indexes: DefaultIndexes(),
		},
		RAG: RAGConfig{
			Index:           "knowledge",
			KTop:            8,
			Hybrid:          true,
			CurrentYear:     2024,
			MinQueries:      3,
			GroupCap:        10,
			TokenizerModel:  "gpt-4",
			StageTimeoutMs:  60000,
			SearchTimeoutMs: 15000,
			Condense:        StageLLM{Model: "gpt-4o", Temperature: 0.5},
			Expand:          StageLLM{Model: "gpt-4o", Temperature: 0.5},
			Synthesis:       StageLLM{Model: "gpt-4o", Temperature: 0.8},
			Followup:        StageLLM{Model: "gpt-4o-mini", Temperature: 0.8},
		},
		Ensemble: EnsembleConfig{
			Roster:        []string{"xgboost", "gpt-4o", "gpt-4o-mini", "image_analysis"},
			FailurePolicy: FailurePolicyPartial,
			TimeoutMs:     30000,
			Classical: ClassicalConfig{
				Name:      "xgboost",
				ModelPath: "models/spam_model.json",
				Threshold: 0.5,
			},
			Classifiers: []ClassifierModelConfig{
				{Name: "gpt-4o", Model: "gpt-4o", Temperature: 0.2, Index: "messages", ExamplesTop: 50},
				{Name: "gpt-4o-mini", Model: "gpt-4o-mini", Temperature: 0.2, Index: "messages", ExamplesTop: 50},
			},
			Image: ImageConfig{Name: "image_analysis", Model: "gpt-4o", Temperature: 0.2},
		},
		Memory: MemoryConfig{
			Store:       "memory",
			LastNRounds: 5,
			TTLSeconds:  86400,
			Redis:       RedisConfig{Addr: "localhost:6379", Prefix: "spamrag:conv:"},
		},
		Cache: CacheConfig{Capacity: 1024, TTLSeconds: 600},
		Store: StoreConfig{Driver: "sqlite", DSN: "spamrag.db"},
		Evaluation: EvaluationConfig{
			Dataset:      "data/valid/sample.csv",
			SampleSize:   20,
			Seed:         42,
			RetryDelayMs: 20000,
		},
		HTTP: HTTPClientConfig{
			TimeoutMs:              15000,
			Retry:                  0,
			BackoffMinMs:           100,
			BackoffMaxMs:           800,
			MaxConsecutiveFailures: 5,
			CircuitOpenSeconds:     5,
		},
	}
}

// DefaultIndexes describes the index flavours used by the classifiers and the assistant.
func DefaultIndexes() map[string]IndexConfig {
	return map[string]IndexConfig{
		"classification": {
			Name:           "classification-index",
			IDField:        "record_id",
			VectorField:    "content_vector",
			TextFields:     []string{"title", "description"},
			Select:         []string{"record_id", "type_dataset", "title", "description", "type", "service", "category", "subcategory"},
			Filterable:     []string{"type", "type_dataset", "service", "category", "subcategory"},
			KeyFields:      []string{"service", "category", "subcategory"},
			CategoryFields: []string{"service"},
			BaseFilter:     map[string]string{"type_dataset": "train"},
		},
		"calification": {
			Name:        "calification-index",
			IDField:     "id",
			VectorField: "content_vector",
			Filterable:  []string{"type_data"},
			BaseFilter:  map[string]string{"type_data": "train"},
		},
		"messages": {
			Name:        "spam-messages",
			IDField:     "id",
			VectorField: "main_vector",
			TextFields:  []string{"message"},
			Select:      []string{"id", "message", "label", "source"},
			Filterable:  []string{"label", "source"},
			KeyFields:   []string{"message"},
		},
		"knowledge": {
			Name:        "knowledge-index",
			IDField:     "id_content",
			VectorField: "content_vector",
			TextFields:  []string{"title", "content"},
			Select:      []string{"id_content", "title", "content", "link", "country", "region", "year", "domain"},
			Filterable:  []string{"country", "region", "year", "domain"},
			KeyFields:   []string{"id_content"},
		},
	}
}
