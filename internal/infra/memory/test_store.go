package memory

import (
	"context"
	"sync"
	"time"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/domain"
)

// TestStore is an in-memory implementation of app.TestRepository. A mutex
// per test id serializes reconciliations for that id while different ids
// proceed in parallel, mirroring the row lock the Postgres store takes.
type TestStore struct {
	mu      sync.Mutex
	tests   map[string]domain.Test
	records map[string][]*domain.ActionRecord
	seen    map[string]map[string]struct{}
	locks   map[string]*sync.Mutex
	seq     int64
}

var _ app.TestRepository = (*TestStore)(nil)

func NewTestStore() *TestStore {
	return &TestStore{
		tests:   make(map[string]domain.Test),
		records: make(map[string][]*domain.ActionRecord),
		seen:    make(map[string]map[string]struct{}),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *TestStore) CreateTest(_ context.Context, t domain.Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = t.Clone()
	return nil
}

func (s *TestStore) GetTest(_ context.Context, id string) (domain.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[id]
	if !ok {
		return domain.Test{}, domain.ErrTestNotFound
	}
	return t.Clone(), nil
}

func (s *TestStore) StartTest(ctx context.Context, id string, startedAt time.Time) (domain.Test, error) {
	lock := s.testLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	t, ok := s.tests[id]
	s.mu.Unlock()
	if !ok {
		return domain.Test{}, domain.ErrTestNotFound
	}
	if t.Status != domain.StatusCreated {
		return t.Clone(), nil
	}
	t = t.Clone()
	t.Status = domain.StatusInProgress
	t.StartedAt = startedAt

	s.mu.Lock()
	s.tests[id] = t
	s.mu.Unlock()
	return t.Clone(), nil
}

// Reconcile runs the whole reconciliation step under the test's lock:
// terminal short-circuit, dedup append, replay of every unprocessed record
// in canonical order, then snapshot persist and processed markers together.
func (s *TestStore) Reconcile(ctx context.Context, testID string, actions []domain.Action, receivedAt time.Time) (domain.Test, error) {
	lock := s.testLock(testID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Test{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	test, ok := s.tests[testID]
	if !ok {
		return domain.Test{}, domain.ErrTestNotFound
	}
	// Late-arriving actions after completion are accepted but ignored.
	if test.Status == domain.StatusCompleted {
		return test.Clone(), nil
	}
	if test.Status == domain.StatusCreated {
		return domain.Test{}, domain.ErrTestNotStarted
	}

	keys, ok := s.seen[testID]
	if !ok {
		keys = make(map[string]struct{})
		s.seen[testID] = keys
	}
	for _, a := range actions {
		if _, dup := keys[a.IdempotencyKey]; dup {
			continue
		}
		keys[a.IdempotencyKey] = struct{}{}
		s.seq++
		s.records[testID] = append(s.records[testID], &domain.ActionRecord{
			TestID:           testID,
			Seq:              s.seq,
			Action:           a,
			ServerReceivedAt: receivedAt,
		})
	}

	var unprocessed []domain.ActionRecord
	var pending []*domain.ActionRecord
	for _, rec := range s.records[testID] {
		if !rec.Processed {
			unprocessed = append(unprocessed, *rec)
			pending = append(pending, rec)
		}
	}

	folded := domain.Replay(test.Clone(), unprocessed)

	s.tests[testID] = folded
	for _, rec := range pending {
		rec.Processed = true
	}
	return folded.Clone(), nil
}

func (s *TestStore) ListExpired(_ context.Context, now time.Time) ([]domain.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.Test
	for _, t := range s.tests {
		if t.Status != domain.StatusInProgress || t.TimeLimitSec <= 0 || t.StartedAt.IsZero() {
			continue
		}
		if !t.StartedAt.Add(time.Duration(t.TimeLimitSec) * time.Second).After(now) {
			expired = append(expired, t.Clone())
		}
	}
	return expired, nil
}

// ActionLog returns the full per-test log in insertion order. Used by the
// audit surface and tests; records are copies.
func (s *TestStore) ActionLog(testID string) []domain.ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActionRecord, 0, len(s.records[testID]))
	for _, rec := range s.records[testID] {
		out = append(out, *rec)
	}
	return out
}

func (s *TestStore) testLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
