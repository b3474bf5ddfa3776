package assistant

import (
	"errors"
	"strings"

	"github.com/spamguard/spamrag/metrics"
	"github.com/spamguard/spamrag/schema"
)

// Topics recognised by the condense stage. Anything else becomes TopicNull.
const (
	TopicAutos = "autos"
	TopicSalud = "salud"
	TopicNull  = "Null"
)

// NullEntity marks an entity the expansion stage did not find.
const NullEntity = "Null"

// Request is one conversational turn.
type Request struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	History        schema.ChatHistory `json:"history"`
}

type Response struct {
	MessageID         string                    `json:"message_id"`
	Response          string                    `json:"response"`
	References        []schema.Reference        `json:"references"`
	FollowupQuestions []schema.FollowupQuestion `json:"followup_questions"`
	// Metadata is only filled in debug mode.
	Metadata *metrics.ChainLog `json:"metadata,omitempty"`
}

// Condensor is the structured output of the condense stage.
type Condensor struct {
	Language  string `json:"language" jsonschema_description:"language detected. Spanish, English, etc"`
	Condensor string `json:"condensor" jsonschema_description:"the last user question reformulated as a standalone question if needed, always in spanish"`
	Topic     string `json:"topic" jsonschema:"enum=autos,enum=salud,enum=Null,description=topic of the conversation"`
}

func (c *Condensor) Validate() error {
	if strings.TrimSpace(c.Condensor) == "" {
		return errors.New("condensor is empty")
	}
	return nil
}

// Query is one expanded query with the entities extracted from it.
type Query struct {
	Query   string `json:"query" jsonschema:"description=Question or search query"`
	Country string `json:"country" jsonschema_description:"Valid existing country names in spanish, or Null"`
	Region  string `json:"region" jsonschema_description:"Valid existing regions, or Null"`
	Year    string `json:"year" jsonschema_description:"Year or comma separated years mentioned in the question, or Null"`
}

// Queries is the structured output of the expansion stage.
type Queries struct {
	Queries []Query `json:"queries"`
}

func (q *Queries) Validate() error {
	if len(q.Queries) == 0 {
		return errors.New("no queries")
	}
	return nil
}

type Followup struct {
	FollowupQuestion        string `json:"followup_question" jsonschema:"description=The next suggested question to ask"`
	FollowupQuestionSummary string `json:"followup_question_summary" jsonschema:"description=A very concise version of the follow-up question"`
}

// Questions is the structured output of the follow-up stage.
type Questions struct {
	FollowupQuestions []Followup `json:"followup_questions"`
}

// ExpandedQuery is a search to run for the turn, tagged with the turn topic.
type ExpandedQuery struct {
	Query   string `json:"query"`
	Domain  string `json:"domain"`
	Country string `json:"country"`
	Region  string `json:"region"`
	Year    string `json:"year"`
}

func (q ExpandedQuery) asMap() map[string]string {
	return map[string]string{
		"query":   q.Query,
		"domain":  q.Domain,
		"country": q.Country,
		"region":  q.Region,
		"year":    q.Year,
	}
}

func normalizeTopic(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case TopicAutos:
		return TopicAutos
	case TopicSalud:
		return TopicSalud
	}
	return TopicNull
}

func normalizeEntity(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a":
		return NullEntity
	}
	return v
}
