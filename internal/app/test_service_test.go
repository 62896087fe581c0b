package app_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/domain"
	"github.com/amann-codes/quizbud/internal/infra/memory"
)

var t0 = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	service *app.TestService
	tests   *memory.TestStore
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	tests := memory.NewTestStore()
	quizzes := memory.NewQuizStoreWith(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	})
	service := app.NewTestServiceWithClock(
		tests,
		memory.NewQuizRepository(quizzes, 5*time.Minute),
		quizzes,
		clock.Now,
	)
	return &fixture{service: service, tests: tests, clock: clock}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		Name:         "Sample",
		TimeLimitSec: 600,
		Questions: []domain.Question{
			{ID: "q1", Text: "first", Options: []domain.Option{
				{ID: "oA", Text: "wrong"},
				{ID: "oB", Text: "right", Correct: true},
			}},
			{ID: "q2", Text: "second", Options: []domain.Option{
				{ID: "oC", Text: "right", Correct: true},
				{ID: "oD", Text: "wrong"},
			}},
		},
	}
}

func (f *fixture) startedTest(t *testing.T) domain.Test {
	t.Helper()
	ctx := context.Background()
	test, err := f.service.CreateTest(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	started, err := f.service.StartTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("start test: %v", err)
	}
	return started
}

func selectAction(key, questionID, optionID string, ts time.Time) domain.Action {
	return domain.Action{
		Kind:            domain.ActionSelect,
		IdempotencyKey:  key,
		ClientTimestamp: ts,
		QuestionID:      questionID,
		OptionID:        optionID,
	}
}

func selectedID(q domain.Question) string {
	for _, o := range q.Options {
		if o.UserSelected != nil && *o.UserSelected {
			return o.ID
		}
	}
	return ""
}

func TestIngestRequiresStartedTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	test, err := f.service.CreateTest(ctx, "quiz-1", "u1")
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	_, err = f.service.Ingest(ctx, test.ID, []domain.Action{selectAction("k1", "q1", "oA", t0)})
	if !errors.Is(err, domain.ErrTestNotStarted) {
		t.Fatalf("expected ErrTestNotStarted, got %v", err)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.startedTest(t)

	action := selectAction("k1", "q1", "oA", t0.Add(time.Second))
	first, err := f.service.Ingest(ctx, test.ID, []domain.Action{action})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	second, err := f.service.Ingest(ctx, test.ID, []domain.Action{action})
	if err != nil {
		t.Fatalf("retry ingest: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("retry changed the snapshot")
	}
	if got := len(f.tests.ActionLog(test.ID)); got != 1 {
		t.Fatalf("expected 1 logged action, got %d", got)
	}
}

func TestBatchDeliveryOrderIndependence(t *testing.T) {
	a := selectAction("kA", "q1", "oA", t0.Add(time.Second))
	b := selectAction("kB", "q1", "oB", t0.Add(2*time.Second))

	deliveries := [][][]domain.Action{
		{{a}, {b}},      // two requests in order
		{{a, b}},        // one batch
		{{b, a}},        // one batch, reversed arrival
		{{b}, {a}},      // two requests, reversed arrival
		{{a}, {b}, {a}}, // duplicate retry at the end
	}

	var snapshots []domain.Test
	for _, batches := range deliveries {
		f := newFixture(t)
		test := f.startedTest(t)
		var final domain.Test
		for _, batch := range batches {
			var err error
			final, err = f.service.Ingest(context.Background(), test.ID, batch)
			if err != nil {
				t.Fatalf("ingest: %v", err)
			}
		}
		snapshots = append(snapshots, final)
	}

	for i, snap := range snapshots {
		if got := selectedID(snap.Questions[0]); got != "oB" {
			t.Fatalf("delivery %d: expected oB selected (later timestamp wins), got %q", i, got)
		}
		if !reflect.DeepEqual(snapshots[0].Questions, snap.Questions) {
			t.Fatalf("delivery %d produced a different snapshot", i)
		}
	}
}

func TestLateActionsAfterCompletionAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.startedTest(t)

	submitted, err := f.service.Ingest(ctx, test.ID, []domain.Action{{
		Kind:            domain.ActionSubmit,
		IdempotencyKey:  "submit",
		ClientTimestamp: t0.Add(time.Minute),
		QuestionIndex:   1,
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", submitted.Status)
	}

	late, err := f.service.Ingest(ctx, test.ID, []domain.Action{
		selectAction("late", "q2", "oC", t0.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatalf("late ingest: %v", err)
	}
	if !reflect.DeepEqual(submitted, late) {
		t.Fatalf("late action mutated a completed snapshot")
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	f := newFixture(t)
	test := f.startedTest(t)
	action := selectAction("dup", "q1", "oB", t0.Add(time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Ingest(context.Background(), test.ID, []domain.Action{action}); err != nil {
				t.Errorf("concurrent ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(f.tests.ActionLog(test.ID)); got != 1 {
		t.Fatalf("expected exactly 1 log row, got %d", got)
	}
	final, err := f.service.GetTest(context.Background(), test.ID)
	if err != nil {
		t.Fatalf("get test: %v", err)
	}
	if got := selectedID(final.Questions[0]); got != "oB" {
		t.Fatalf("expected oB selected once, got %q", got)
	}
}

func TestResultRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	test := f.startedTest(t)

	if _, err := f.service.Result(context.Background(), test.ID); !errors.Is(err, domain.ErrTestNotCompleted) {
		t.Fatalf("expected ErrTestNotCompleted, got %v", err)
	}
}

func TestResultScoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.startedTest(t)

	// q1 answered correctly, q2 skipped.
	_, err := f.service.Ingest(ctx, test.ID, []domain.Action{
		selectAction("k1", "q1", "oB", t0.Add(time.Second)),
		{Kind: domain.ActionSkip, IdempotencyKey: "k2", ClientTimestamp: t0.Add(2 * time.Second), QuestionID: "q2"},
		{Kind: domain.ActionSubmit, IdempotencyKey: "k3", ClientTimestamp: t0.Add(3 * time.Second), QuestionIndex: 1},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	result, err := f.service.Result(ctx, test.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Correct != 1 || result.Skipped != 1 || result.Incorrect != 0 || result.Unanswered != 0 {
		t.Fatalf("unexpected tallies: %+v", result)
	}
	if result.Score != 4-0.5 {
		t.Fatalf("expected score 3.5, got %v", result.Score)
	}
}

func TestWatchReceivesCommittedSnapshots(t *testing.T) {
	f := newFixture(t)
	test := f.startedTest(t)

	updates, cancel := f.service.Watch(test.ID)
	defer cancel()

	if _, err := f.service.Ingest(context.Background(), test.ID, []domain.Action{
		selectAction("k1", "q1", "oB", t0.Add(time.Second)),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	select {
	case update := <-updates:
		if got := selectedID(update.Questions[0]); got != "oB" {
			t.Fatalf("expected update with oB selected, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update received")
	}
}

func TestSweepTimeoutsCompletesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := f.startedTest(t)

	// Not yet expired.
	n, err := f.service.SweepTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no sweeps before the deadline, got %d", n)
	}

	f.clock.Advance(11 * time.Minute)
	n, err = f.service.SweepTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 sweep, got %d", n)
	}

	swept, err := f.service.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("get test: %v", err)
	}
	if swept.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED after sweep, got %s", swept.Status)
	}
	deadline := test.StartedAt.Add(time.Duration(test.TimeLimitSec) * time.Second)
	if swept.EndedAt == nil || !swept.EndedAt.Equal(deadline) {
		t.Fatalf("expected endedAt at the deadline %v, got %v", deadline, swept.EndedAt)
	}

	// A second sweep finds nothing and the log still has one TIMEOUT row.
	if n, err = f.service.SweepTimeouts(ctx); err != nil || n != 0 {
		t.Fatalf("expected idle second sweep, got n=%d err=%v", n, err)
	}
	if got := len(f.tests.ActionLog(test.ID)); got != 1 {
		t.Fatalf("expected single timeout record, got %d", got)
	}
}

func TestRemaining(t *testing.T) {
	f := newFixture(t)
	test := f.startedTest(t)

	rem, ok := app.Remaining(test, t0.Add(4*time.Minute))
	if !ok || rem != 6*time.Minute {
		t.Fatalf("expected 6m remaining, got %v ok=%v", rem, ok)
	}
	rem, ok = app.Remaining(test, t0.Add(time.Hour))
	if !ok || rem != 0 {
		t.Fatalf("expected 0 remaining after deadline, got %v", rem)
	}

	untimed := test
	untimed.TimeLimitSec = 0
	if _, ok := app.Remaining(untimed, t0); ok {
		t.Fatalf("untimed test should report no remaining time")
	}
}
