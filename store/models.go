package store

import (
	"time"

	"github.com/spamguard/spamrag/schema"
)

// Kinds of evaluation runs.
const (
	KindEnsemble  = "ensemble"
	KindAssistant = "assistant"
)

// EvaluationRecord is one model's report from one evaluation run.
type EvaluationRecord struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RunID      string         `gorm:"type:varchar(36);index;not null" json:"run_id"`
	RunTime    time.Time      `gorm:"index;not null" json:"run_time"`
	Kind       string         `gorm:"type:varchar(16);index;not null;default:'ensemble'" json:"kind"`
	Model      string         `gorm:"type:varchar(64);index" json:"model"`
	Dataset    string         `gorm:"type:text" json:"dataset,omitempty"`
	SampleSize int            `json:"sample_size"`
	Metrics    map[string]any `gorm:"serializer:json;type:text" json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (EvaluationRecord) TableName() string { return "evaluation_record" }

// PredictionRecord is a persisted ensemble response.
type PredictionRecord struct {
	ID        string                  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Text      string                  `gorm:"type:text" json:"text"`
	HasImage  bool                    `json:"has_image"`
	Response  schema.EnsembleResponse `gorm:"serializer:json;type:text" json:"response"`
	CreatedAt time.Time               `gorm:"index" json:"created_at"`
}

func (PredictionRecord) TableName() string { return "prediction_record" }
