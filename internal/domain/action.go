package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind identifies a user interaction type.
type ActionKind string

const (
	ActionSelect    ActionKind = "SELECT"
	ActionSkip      ActionKind = "SKIP"
	ActionReset     ActionKind = "RESET"
	ActionNavigate  ActionKind = "NAVIGATE"
	ActionSubmit    ActionKind = "SUBMIT"
	ActionTimeout   ActionKind = "TIMEOUT"
	ActionHardReset ActionKind = "HARD_RESET"
)

// knownKinds are the action kinds the schema accepts on ingestion. The
// reducer additionally passes through unknown kinds as no-ops so that logs
// written by newer schema versions replay cleanly.
var knownKinds = map[ActionKind]struct{}{
	ActionSelect:    {},
	ActionSkip:      {},
	ActionReset:     {},
	ActionNavigate:  {},
	ActionSubmit:    {},
	ActionTimeout:   {},
	ActionHardReset: {},
}

// Action is the only mutation primitive of a test snapshot.
// IdempotencyKey is client-generated and globally unique per logical action;
// ClientTimestamp establishes the total order among a session's actions.
type Action struct {
	Kind            ActionKind `json:"kind"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	ClientTimestamp time.Time  `json:"clientTimestamp"`
	QuestionIndex   int        `json:"questionIndex"`
	QuestionID      string     `json:"questionId,omitempty"`
	OptionID        string     `json:"optionId,omitempty"`
}

// Validate checks the action schema before it is trusted. It has no side
// effects and never touches storage.
func (a Action) Validate() error {
	if _, ok := knownKinds[a.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
	if a.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidAction)
	}
	if a.ClientTimestamp.IsZero() {
		return fmt.Errorf("%w: missing client timestamp", ErrInvalidAction)
	}
	if a.QuestionIndex < 0 {
		return fmt.Errorf("%w: negative question index", ErrInvalidAction)
	}
	switch a.Kind {
	case ActionSelect:
		if a.QuestionID == "" || a.OptionID == "" {
			return fmt.Errorf("%w: SELECT requires questionId and optionId", ErrInvalidAction)
		}
	case ActionSkip, ActionReset:
		if a.QuestionID == "" {
			return fmt.Errorf("%w: %s requires questionId", ErrInvalidAction, a.Kind)
		}
	}
	return nil
}

// ParseActions decodes an ingestion body holding either a single action
// object or an array of actions, validating every element. A single invalid
// element rejects the whole batch.
func ParseActions(data []byte) ([]Action, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidAction)
	}

	var actions []Action
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &actions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
	} else {
		var single Action
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		actions = []Action{single}
	}

	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidAction)
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return actions, nil
}

// ActionRecord is the durable, immutable record of a submitted action.
// Seq is the store-assigned insertion order, the stable tie-break when two
// actions share a client timestamp. Records are never deleted.
type ActionRecord struct {
	TestID           string    `json:"testId"`
	Seq              int64     `json:"seq"`
	Action           Action    `json:"action"`
	ServerReceivedAt time.Time `json:"serverReceivedAt"`
	Processed        bool      `json:"processed"`
}
