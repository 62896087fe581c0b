package domain

import "time"

// TestStatus is the lifecycle state of a test attempt.
type TestStatus string

const (
	// StatusCreated means the snapshot exists but the clock has not started.
	StatusCreated TestStatus = "CREATED"
	// StatusInProgress means the user is taking the test.
	StatusInProgress TestStatus = "IN_PROGRESS"
	// StatusCompleted is terminal; the snapshot never changes again.
	StatusCompleted TestStatus = "COMPLETED"
)

// Option represents a possible answer for a question.
// UserSelected is nil until the user has interacted with the question.
type Option struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Correct      bool   `json:"correct"`
	UserSelected *bool  `json:"userSelected"`
}

// Question models an MCQ question inside a test snapshot.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Explanation string   `json:"explanation,omitempty"`
	Skip        bool     `json:"skip"`
	Options     []Option `json:"options"`
}

// Quiz is reusable question content supplied by an upstream producer.
type Quiz struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CreatorID    string     `json:"creatorId,omitempty"`
	TimeLimitSec int        `json:"timeLimitSec"` // 0 means untimed
	Questions    []Question `json:"questions"`
}

// Test is the authoritative snapshot of one user's attempt at one quiz.
// It is only ever mutated by replaying logged actions through Reduce.
type Test struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	QuizID       string     `json:"quizId"`
	QuizName     string     `json:"quizName"`
	Questions    []Question `json:"questions"`
	CurrentIndex int        `json:"currentIndex"`
	Status       TestStatus `json:"status"`
	TimeLimitSec int        `json:"timeLimitSec"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// Clone deep-copies the snapshot so the reducer never mutates shared state.
func (t Test) Clone() Test {
	next := t
	next.Questions = CloneQuestions(t.Questions)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		next.EndedAt = &ended
	}
	return next
}

// CloneQuestions deep-copies a question slice, including option selections.
func CloneQuestions(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		cq := q
		cq.Options = make([]Option, len(q.Options))
		for j, o := range q.Options {
			co := o
			if o.UserSelected != nil {
				selected := *o.UserSelected
				co.UserSelected = &selected
			}
			cq.Options[j] = co
		}
		out[i] = cq
	}
	return out
}

// questionIndex returns the position of a question by ID, or -1.
func (t Test) questionIndex(id string) int {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return i
		}
	}
	return -1
}

// Result summarizes a completed test for downstream consumers.
type Result struct {
	TestID     string  `json:"testId"`
	QuizName   string  `json:"quizName"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Skipped    int     `json:"skipped"`
	Unanswered int     `json:"unanswered"`
	Score      float64 `json:"score"`
}

// Score tallies a snapshot's questions into a Result. The weights
// (+4 correct, -1 incorrect, -0.5 skipped or unanswered) are the contract
// with the downstream leaderboard consumer.
func Score(t Test) Result {
	r := Result{TestID: t.ID, QuizName: t.QuizName}
	for _, q := range t.Questions {
		selected := selectedOption(q)
		switch {
		case q.Skip:
			r.Skipped++
		case selected == nil:
			r.Unanswered++
		case selected.Correct:
			r.Correct++
		default:
			r.Incorrect++
		}
	}
	r.Score = float64(r.Correct)*4 - float64(r.Incorrect) - float64(r.Skipped)*0.5 - float64(r.Unanswered)*0.5
	return r
}

func selectedOption(q Question) *Option {
	for i := range q.Options {
		if q.Options[i].UserSelected != nil && *q.Options[i].UserSelected {
			return &q.Options[i]
		}
	}
	return nil
}
