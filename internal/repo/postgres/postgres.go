package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS target_states (
  target_id             TEXT PRIMARY KEY,
  verdict               TEXT NOT NULL,
  last_transition       TIMESTAMPTZ NULL,
  last_checked          TIMESTAMPTZ NULL,
  consecutive_successes INTEGER NOT NULL DEFAULT 0,
  consecutive_failures  INTEGER NOT NULL DEFAULT 0,
  last_latency_ms       DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_error            TEXT NOT NULL DEFAULT '',
  last_class            TEXT NOT NULL DEFAULT '',
  last_status_code      INTEGER NULL
);`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects, pings and applies the schema.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("state_store_ready", zap.String("backend", "postgres"))
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Put(ctx context.Context, st domain.State) error {
	const q = `
		INSERT INTO target_states
		  (target_id, verdict, last_transition, last_checked, consecutive_successes,
		   consecutive_failures, last_latency_ms, last_error, last_class, last_status_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (target_id) DO UPDATE SET
		  verdict=EXCLUDED.verdict,
		  last_transition=EXCLUDED.last_transition,
		  last_checked=EXCLUDED.last_checked,
		  consecutive_successes=EXCLUDED.consecutive_successes,
		  consecutive_failures=EXCLUDED.consecutive_failures,
		  last_latency_ms=EXCLUDED.last_latency_ms,
		  last_error=EXCLUDED.last_error,
		  last_class=EXCLUDED.last_class,
		  last_status_code=EXCLUDED.last_status_code`
	var statusPtr *int
	if st.LastStatusCode != 0 {
		statusPtr = &st.LastStatusCode
	}
	_, err := s.pool.Exec(ctx, q,
		string(st.TargetID), string(st.Verdict), nullTime(st.LastTransition), nullTime(st.LastChecked),
		st.ConsecutiveSuccesses, st.ConsecutiveFailures, float64(st.LastLatency)/float64(time.Millisecond),
		st.LastError, string(st.LastClass), statusPtr,
	)
	if err != nil {
		return fmt.Errorf("upsert state %s: %w", st.TargetID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.State, error) {
	rows, err := s.pool.Query(ctx, `
SELECT target_id, verdict, last_transition, last_checked, consecutive_successes,
       consecutive_failures, last_latency_ms, last_error, last_class, last_status_code
  FROM target_states
 ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []domain.State
	for rows.Next() {
		var (
			id, verdict, lastErr, class string
			transition, checked         sql.NullTime
			succ, fail                  int
			latencyMS                   float64
			status                      sql.NullInt32
		)
		if err := rows.Scan(&id, &verdict, &transition, &checked, &succ, &fail, &latencyMS, &lastErr, &class, &status); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, domain.State{
			TargetID:             domain.TargetID(id),
			Verdict:              domain.Verdict(verdict),
			LastTransition:       transition.Time,
			LastChecked:          checked.Time,
			ConsecutiveSuccesses: succ,
			ConsecutiveFailures:  fail,
			LastLatency:          time.Duration(latencyMS * float64(time.Millisecond)),
			LastError:            lastErr,
			LastClass:            domain.ErrorClass(class),
			LastStatusCode:       int(status.Int32),
		})
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
