package schema

import (
	"errors"
	"fmt"
)

// Chat roles accepted in a history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatTurn represents a single chat turn.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistory is an ordered sequence of turns; the last turn is the active user query.
type ChatHistory []ChatTurn

var (
	ErrEmptyHistory    = errors.New("chat history is empty")
	ErrLastTurnNotUser = errors.New("last chat turn must have role user")
)

// UnknownRoleError reports a turn whose role is outside user/assistant/system.
type UnknownRoleError struct {
	Index int
	Role  string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown message role %q at turn %d", e.Role, e.Index)
}

// Validate checks the history invariants.
func (h ChatHistory) Validate() error {
	if len(h) == 0 {
		return ErrEmptyHistory
	}
	for i, t := range h {
		switch t.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return &UnknownRoleError{Index: i, Role: t.Role}
		}
	}
	if h[len(h)-1].Role != RoleUser {
		return ErrLastTurnNotUser
	}
	return nil
}

// LastQuery returns the content of the active user turn.
func (h ChatHistory) LastQuery() string {
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Content
}

// Previous returns every turn before the active one.
func (h ChatHistory) Previous() ChatHistory {
	if len(h) <= 1 {
		return nil
	}
	return h[:len(h)-1]
}

// Reference is a citable source derived from a retrieved document.
type Reference struct {
	Link       string `json:"link"`
	NameToShow string `json:"name_to_show"`
}

// FollowupQuestion is a suggested next question with a short display label.
type FollowupQuestion struct {
	Question       string `json:"question"`
	QuestionToShow string `json:"question_to_show"`
}
