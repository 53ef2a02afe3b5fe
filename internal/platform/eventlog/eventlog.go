package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one durable pipeline occurrence: a submission, a group creation,
// a finalized version. Failures after webhook acceptance are observable only
// here and in the process logs.
type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

const insertEventQuery = `INSERT INTO pipeline_events (
	occurred_at,
	actor,
	action,
	resource_type,
	resource_id,
	request_id,
	payload
) VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING event_id`

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		requestID,
		payloadJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline event: %w", err)
	}
	return id, nil
}

// Recorder binds Insert to one database handle.
type Recorder struct {
	q QueryRower
}

func NewRecorder(q QueryRower) *Recorder {
	if q == nil {
		return nil
	}
	return &Recorder{q: q}
}

func (r *Recorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.q == nil {
		return errors.New("event recorder not initialized")
	}
	_, err := Insert(ctx, r.q, event)
	return err
}
