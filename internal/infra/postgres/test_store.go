package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/domain"
)

// TestStore persists test snapshots and their append-only action logs in
// Postgres. Reconciliation serializes per test id through a row-level lock
// on the tests row, so concurrent requests for the same test wait on each
// other while different tests proceed in parallel.
type TestStore struct {
	pool *pgxpool.Pool
}

var _ app.TestRepository = (*TestStore)(nil)

func NewTestStore(pool *pgxpool.Pool) *TestStore {
	return &TestStore{pool: pool}
}

func (s *TestStore) CreateTest(ctx context.Context, t domain.Test) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tests (id, user_id, quiz_id, status, time_limit_sec, data) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.QuizID, string(t.Status), t.TimeLimitSec, data)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

func (s *TestStore) GetTest(ctx context.Context, id string) (domain.Test, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM tests WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Test{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.Test{}, fmt.Errorf("load test: %w", err)
	}
	return unmarshalTest(raw)
}

func (s *TestStore) StartTest(ctx context.Context, id string, startedAt time.Time) (domain.Test, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Test{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	test, err := lockTest(ctx, tx, id)
	if err != nil {
		return domain.Test{}, err
	}
	if test.Status != domain.StatusCreated {
		// Restarting a running or completed test is a no-op.
		return test, tx.Commit(ctx)
	}
	test.Status = domain.StatusInProgress
	test.StartedAt = startedAt
	if err := persistTest(ctx, tx, test); err != nil {
		return domain.Test{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Test{}, fmt.Errorf("commit: %w", err)
	}
	return test, nil
}

// Reconcile is the transactional core. Inside one transaction it locks the
// snapshot row, short-circuits if already COMPLETED, appends the batch with
// idempotency-key dedup, re-reads every unprocessed record in canonical
// order, folds the reducer over them, and persists the snapshot together
// with the processed markers. Any failure before commit rolls the whole
// step back, including the append.
func (s *TestStore) Reconcile(ctx context.Context, testID string, actions []domain.Action, receivedAt time.Time) (domain.Test, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Test{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	test, err := lockTest(ctx, tx, testID)
	if err != nil {
		return domain.Test{}, err
	}
	if test.Status == domain.StatusCompleted {
		// Late-arriving actions after completion are accepted but ignored.
		return test, tx.Commit(ctx)
	}
	if test.Status == domain.StatusCreated {
		return domain.Test{}, domain.ErrTestNotStarted
	}

	for _, a := range actions {
		payload, err := json.Marshal(a)
		if err != nil {
			return domain.Test{}, fmt.Errorf("marshal action: %w", err)
		}
		// Client retries re-send the same logical action; the unique
		// (test_id, idempotency_key) pair drops them silently.
		_, err = tx.Exec(ctx,
			`INSERT INTO test_actions (test_id, idempotency_key, kind, client_ts, payload, received_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (test_id, idempotency_key) DO NOTHING`,
			testID, a.IdempotencyKey, string(a.Kind), a.ClientTimestamp, payload, receivedAt)
		if err != nil {
			return domain.Test{}, fmt.Errorf("append action: %w", err)
		}
	}

	// All unprocessed records, not just this request's: leftovers from a
	// prior partial failure get folded here too.
	records, err := unprocessedRecords(ctx, tx, testID)
	if err != nil {
		return domain.Test{}, err
	}

	folded := domain.Replay(test, records)

	if err := persistTest(ctx, tx, folded); err != nil {
		return domain.Test{}, err
	}
	if len(records) > 0 {
		seqs := make([]int64, len(records))
		for i, rec := range records {
			seqs[i] = rec.Seq
		}
		if _, err := tx.Exec(ctx,
			`UPDATE test_actions SET processed = TRUE WHERE test_id = $1 AND seq = ANY($2)`,
			testID, seqs); err != nil {
			return domain.Test{}, fmt.Errorf("mark processed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Test{}, fmt.Errorf("commit: %w", err)
	}
	return folded, nil
}

func (s *TestStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Test, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM tests
		 WHERE status = $1 AND time_limit_sec > 0
		   AND started_at + make_interval(secs => time_limit_sec) <= $2`,
		string(domain.StatusInProgress), now)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var expired []domain.Test
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		test, err := unmarshalTest(raw)
		if err != nil {
			return nil, err
		}
		expired = append(expired, test)
	}
	return expired, rows.Err()
}

func lockTest(ctx context.Context, tx pgx.Tx, id string) (domain.Test, error) {
	var raw []byte
	err := tx.QueryRow(ctx, `SELECT data FROM tests WHERE id=$1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Test{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.Test{}, fmt.Errorf("lock test: %w", err)
	}
	return unmarshalTest(raw)
}

func persistTest(ctx context.Context, tx pgx.Tx, t domain.Test) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	var startedAt interface{}
	if !t.StartedAt.IsZero() {
		startedAt = t.StartedAt
	}
	_, err = tx.Exec(ctx,
		`UPDATE tests SET status=$2, started_at=$3, data=$4 WHERE id=$1`,
		t.ID, string(t.Status), startedAt, data)
	if err != nil {
		return fmt.Errorf("persist test: %w", err)
	}
	return nil
}

func unprocessedRecords(ctx context.Context, tx pgx.Tx, testID string) ([]domain.ActionRecord, error) {
	rows, err := tx.Query(ctx,
		`SELECT seq, payload, received_at FROM test_actions
		 WHERE test_id = $1 AND processed = FALSE
		 ORDER BY client_ts ASC, seq ASC`, testID)
	if err != nil {
		return nil, fmt.Errorf("load unprocessed: %w", err)
	}
	defer rows.Close()

	var records []domain.ActionRecord
	for rows.Next() {
		rec := domain.ActionRecord{TestID: testID}
		var payload []byte
		if err := rows.Scan(&rec.Seq, &payload, &rec.ServerReceivedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func unmarshalTest(raw []byte) (domain.Test, error) {
	var test domain.Test
	if err := json.Unmarshal(raw, &test); err != nil {
		return domain.Test{}, fmt.Errorf("unmarshal test: %w", err)
	}
	return test, nil
}
