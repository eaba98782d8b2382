package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	TypeAttemptStarted   = "attempt.started"
	TypeAttemptSubmitted = "attempt.submitted"
	TypeAttemptVoided    = "attempt.voided"
	TypeResponseGraded   = "response.graded"
	TypeScoreUpserted    = "score.upserted"
	TypeWeightsChanged   = "weights.changed"
)

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// Recorder appends audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Append(ctx context.Context, typ, key string, data any) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(context.Context, string, string, any) error { return nil }

type EventRepo struct {
	db     *sql.DB
	siteID string
	now    func() time.Time
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID, now: time.Now}
}

func (r *EventRepo) Append(ctx context.Context, typ, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", typ, err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, typ, key, string(raw), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append event %s: %w", typ, err)
	}
	return nil
}

// Since returns events with seq > after in append order. A key filter of ""
// matches every key.
func (r *EventRepo) Since(ctx context.Context, after int64, key string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := `SELECT seq, site_id, typ, key, data, created_at FROM event_log WHERE seq > $1`
	args := []any{after}
	if key != "" {
		q += ` AND key = $2`
		args = append(args, key)
	}
	q += fmt.Sprintf(` ORDER BY seq LIMIT %d`, limit)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
