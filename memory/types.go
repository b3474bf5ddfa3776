package memory

import (
	"time"

	"github.com/spamguard/spamrag/schema"
)

// Round is one answered user turn.
type Round struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	MessageID string    `json:"message_id,omitempty"`
	DocIDs    []string  `json:"doc_ids,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// History expands rounds into alternating user/assistant turns.
func History(rounds []Round) schema.ChatHistory {
	out := make(schema.ChatHistory, 0, 2*len(rounds))
	for _, r := range rounds {
		out = append(out,
			schema.ChatTurn{Role: schema.RoleUser, Content: r.Question},
			schema.ChatTurn{Role: schema.RoleAssistant, Content: r.Answer},
		)
	}
	return out
}
