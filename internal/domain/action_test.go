package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/amann-codes/quizbud/internal/domain"
)

func validSelect() domain.Action {
	return domain.Action{
		Kind:            domain.ActionSelect,
		IdempotencyKey:  "k1",
		ClientTimestamp: baseTime,
		QuestionID:      "q1",
		OptionID:        "oA",
	}
}

func TestActionValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.Action)
		wantErr bool
	}{
		{"valid select", func(a *domain.Action) {}, false},
		{"unknown kind", func(a *domain.Action) { a.Kind = "BOGUS" }, true},
		{"missing idempotency key", func(a *domain.Action) { a.IdempotencyKey = "" }, true},
		{"missing client timestamp", func(a *domain.Action) { a.ClientTimestamp = time.Time{} }, true},
		{"negative question index", func(a *domain.Action) { a.QuestionIndex = -1 }, true},
		{"select without option", func(a *domain.Action) { a.OptionID = "" }, true},
		{"select without question", func(a *domain.Action) { a.QuestionID = "" }, true},
		{"skip without question", func(a *domain.Action) {
			a.Kind = domain.ActionSkip
			a.QuestionID = ""
		}, true},
		{"reset without question", func(a *domain.Action) {
			a.Kind = domain.ActionReset
			a.QuestionID = ""
		}, true},
		{"navigate needs no ids", func(a *domain.Action) {
			a.Kind = domain.ActionNavigate
			a.QuestionID = ""
			a.OptionID = ""
			a.QuestionIndex = 3
		}, false},
		{"submit needs no ids", func(a *domain.Action) {
			a.Kind = domain.ActionSubmit
			a.QuestionID = ""
			a.OptionID = ""
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := validSelect()
			tc.mutate(&a)
			err := a.Validate()
			if tc.wantErr && !errors.Is(err, domain.ErrInvalidAction) {
				t.Fatalf("expected ErrInvalidAction, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
		})
	}
}

func TestParseActionsSingleObject(t *testing.T) {
	body := []byte(`{"kind":"SELECT","idempotencyKey":"k1","clientTimestamp":"2026-02-10T12:00:00Z","questionId":"q1","optionId":"oA"}`)
	actions, err := domain.ParseActions(body)
	if err != nil {
		t.Fatalf("parse single: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != domain.ActionSelect {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestParseActionsArray(t *testing.T) {
	body := []byte(`[
		{"kind":"SKIP","idempotencyKey":"k1","clientTimestamp":"2026-02-10T12:00:00Z","questionId":"q1"},
		{"kind":"SUBMIT","idempotencyKey":"k2","clientTimestamp":"2026-02-10T12:00:01Z","questionIndex":1}
	]`)
	actions, err := domain.ParseActions(body)
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(actions) != 2 || actions[1].Kind != domain.ActionSubmit {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestParseActionsRejectsWholeBatch(t *testing.T) {
	// Second element is missing its idempotency key; the whole batch fails.
	body := []byte(`[
		{"kind":"SKIP","idempotencyKey":"k1","clientTimestamp":"2026-02-10T12:00:00Z","questionId":"q1"},
		{"kind":"SKIP","clientTimestamp":"2026-02-10T12:00:01Z","questionId":"q2"}
	]`)
	if _, err := domain.ParseActions(body); !errors.Is(err, domain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestParseActionsEmptyBodies(t *testing.T) {
	for _, body := range [][]byte{nil, []byte("  "), []byte("[]")} {
		if _, err := domain.ParseActions(body); !errors.Is(err, domain.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction for %q, got %v", body, err)
		}
	}
}
