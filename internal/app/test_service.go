package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amann-codes/quizbud/internal/domain"
)

// TestRepository abstracts how test snapshots and their action logs are
// stored (in-memory, Postgres). Reconcile is the transactional heart: every
// implementation must serialize reconciliations per test id and commit the
// folded snapshot together with the processed markers, or roll back both.
type TestRepository interface {
	CreateTest(ctx context.Context, t domain.Test) error
	GetTest(ctx context.Context, id string) (domain.Test, error)
	StartTest(ctx context.Context, id string, startedAt time.Time) (domain.Test, error)
	Reconcile(ctx context.Context, testID string, actions []domain.Action, receivedAt time.Time) (domain.Test, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.Test, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizWriter persists quiz content supplied by the upstream producer.
type QuizWriter interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// TestService contains the core test-session use cases.
type TestService struct {
	tests      TestRepository
	quizzes    QuizRepository
	quizWriter QuizWriter
	now        func() time.Time

	mu       sync.Mutex
	watchers map[string]map[chan domain.Test]struct{}
}

func NewTestService(tests TestRepository, quizzes QuizRepository, quizWriter QuizWriter) *TestService {
	return NewTestServiceWithClock(tests, quizzes, quizWriter, time.Now)
}

// NewTestServiceWithClock is test-only for deterministic timestamps.
func NewTestServiceWithClock(tests TestRepository, quizzes QuizRepository, quizWriter QuizWriter, now func() time.Time) *TestService {
	return &TestService{
		tests:      tests,
		quizzes:    quizzes,
		quizWriter: quizWriter,
		now:        now,
		watchers:   make(map[string]map[chan domain.Test]struct{}),
	}
}

// CreateQuiz registers quiz content. Only structural shape is validated;
// question text and correctness flags are trusted from the producer.
func (s *TestService) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if len(quiz.Questions) == 0 {
		return domain.Quiz{}, fmt.Errorf("%w: no questions", domain.ErrInvalidQuiz)
	}
	for i, q := range quiz.Questions {
		if q.ID == "" {
			return domain.Quiz{}, fmt.Errorf("%w: question %d missing id", domain.ErrInvalidQuiz, i)
		}
		if len(q.Options) == 0 {
			return domain.Quiz{}, fmt.Errorf("%w: question %q has no options", domain.ErrInvalidQuiz, q.ID)
		}
		for _, o := range q.Options {
			if o.ID == "" {
				return domain.Quiz{}, fmt.Errorf("%w: question %q has option without id", domain.ErrInvalidQuiz, q.ID)
			}
		}
	}
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	if err := s.quizWriter.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// CreateTest seeds a fresh snapshot from quiz content for a verified user.
// The identity collaborator has already authenticated userID; it is trusted
// here and bound to the test at creation time.
func (s *TestService) CreateTest(ctx context.Context, quizID, userID string) (domain.Test, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Test{}, err
	}
	test := domain.Test{
		ID:           uuid.NewString(),
		UserID:       userID,
		QuizID:       quiz.ID,
		QuizName:     quiz.Name,
		Questions:    domain.CloneQuestions(quiz.Questions),
		Status:       domain.StatusCreated,
		TimeLimitSec: quiz.TimeLimitSec,
	}
	if err := s.tests.CreateTest(ctx, test); err != nil {
		return domain.Test{}, err
	}
	return test, nil
}

// StartTest flips the snapshot to IN_PROGRESS and stamps the start time.
// Starting an already running test is a no-op returning the current state.
func (s *TestService) StartTest(ctx context.Context, id string) (domain.Test, error) {
	return s.tests.StartTest(ctx, id, s.now())
}

// GetTest returns the current persisted snapshot.
func (s *TestService) GetTest(ctx context.Context, id string) (domain.Test, error) {
	return s.tests.GetTest(ctx, id)
}

// Ingest accepts a batch of validated actions for a test and runs the
// reconciliation transaction: dedup-append, replay of all unprocessed
// actions in canonical order, snapshot persist and processed markers, all
// atomically. Late actions for a COMPLETED test are accepted and ignored.
func (s *TestService) Ingest(ctx context.Context, testID string, actions []domain.Action) (domain.Test, error) {
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return domain.Test{}, fmt.Errorf("action %d: %w", i, err)
		}
	}
	test, err := s.tests.Reconcile(ctx, testID, actions, s.now())
	if err != nil {
		return domain.Test{}, err
	}
	s.broadcast(test)
	return test, nil
}

// Result computes the scoring summary for a COMPLETED test.
func (s *TestService) Result(ctx context.Context, testID string) (domain.Result, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return domain.Result{}, err
	}
	if test.Status != domain.StatusCompleted {
		return domain.Result{}, domain.ErrTestNotCompleted
	}
	return domain.Score(test), nil
}

// Watch returns a channel receiving the snapshot after each committed
// reconciliation of the given test. The caller must invoke the returned
// cancel function to avoid leaks.
func (s *TestService) Watch(testID string) (<-chan domain.Test, func()) {
	ch := make(chan domain.Test, 8)

	s.mu.Lock()
	set, ok := s.watchers[testID]
	if !ok {
		set = make(map[chan domain.Test]struct{})
		s.watchers[testID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.watchers[testID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.watchers, testID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *TestService) broadcast(test domain.Test) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[test.ID] {
		select {
		case ch <- test:
		default:
			// Drop the stale update so a slow watcher never blocks the committer.
			select {
			case <-ch:
			default:
			}
			ch <- test
		}
	}
}
