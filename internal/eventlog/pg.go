package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"payhub/internal/types"
)

// PGSink mirrors the event log into an append-only Postgres table so the
// audit trail survives restarts. Reads and projection stay in memory.
type PGSink struct {
	Pool *pgxpool.Pool
}

func ConnectPG(ctx context.Context, url string) (*PGSink, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &PGSink{Pool: pool}, nil
}

// EnsureSchema creates the event table. The table is insert-only; there is
// deliberately no update or delete path.
func (s *PGSink) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payment_event (
			event_id    uuid PRIMARY KEY,
			work_id     text NOT NULL,
			event_type  text NOT NULL,
			seq         bigint NOT NULL,
			payload     jsonb,
			recorded_at timestamptz NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create payment_event: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS payment_event_work_idx ON payment_event (work_id, seq)`)
	if err != nil {
		return fmt.Errorf("index payment_event: %w", err)
	}
	return nil
}

func (s *PGSink) AppendEvent(ctx context.Context, e types.PaymentEvent) error {
	var payload []byte
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = b
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_event (event_id, work_id, event_type, seq, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EventID, e.WorkID, string(e.Type), e.Seq, payload, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert payment_event: %w", err)
	}
	return nil
}

func (s *PGSink) Close() {
	s.Pool.Close()
}
