package search

import (
	"github.com/google/uuid"

	"github.com/spamguard/spamrag/schema"
)

// SourceContinuousTraining tags documents added through the feedback endpoint.
const SourceContinuousTraining = "continous_training"

// NewTrainingDocument builds a labelled example for the messages index.
func NewTrainingDocument(message, label string) schema.Document {
	id := uuid.NewString()
	return schema.Document{
		ID: id,
		Fields: map[string]any{
			"id":      id,
			"message": message,
			"label":   label,
			"source":  SourceContinuousTraining,
		},
	}
}
