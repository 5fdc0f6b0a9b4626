package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/pkg/bus"
	"warden/pkg/db"
)

const diagnosticsSubject = "warden.diagnostics.reported"

type diagnosticsEvent struct {
	SnapshotID uuid.UUID      `json:"snapshot_id"`
	ChatID     string         `json:"chat_id"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Ingestor consumes diagnostics snapshots off the bus and persists them with
// a computed delta against the previous snapshot for the same chat. The delta
// is what support staff actually read: "disk dropped from 82% to 41% full"
// beats two raw snapshots.
type Ingestor struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	sub   io.Closer
}

// New constructs an Ingestor for the provided dependencies.
func New(pool *pgxpool.Pool, b *bus.Bus) (*Ingestor, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	return &Ingestor{pool: pool, bus: b}, nil
}

// Start subscribes to diagnostics events and processes them until ctx is
// cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	if i == nil {
		return errors.New("nil ingestor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	handler := func(msgCtx context.Context, data []byte) error {
		return i.handleSnapshot(msgCtx, data)
	}

	sub, err := i.bus.Subscribe(ctx, diagnosticsSubject, "ingest-diagnostics", handler)
	if err != nil {
		return err
	}

	i.subMu.Lock()
	i.sub = sub
	i.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (i *Ingestor) Close() error {
	if i == nil {
		return nil
	}

	i.subMu.Lock()
	defer i.subMu.Unlock()

	if i.sub == nil {
		return nil
	}
	err := i.sub.Close()
	i.sub = nil
	return err
}

func (i *Ingestor) handleSnapshot(ctx context.Context, data []byte) error {
	var evt diagnosticsEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.SnapshotID == uuid.Nil {
		return errors.New("snapshot_id missing from event")
	}
	if evt.Payload == nil {
		evt.Payload = map[string]any{}
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	previous, err := i.previousPayload(ctx, evt.ChatID, evt.SnapshotID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	delta := computeDelta(previous, evt.Payload)
	return i.insertDelta(ctx, evt, delta)
}

func (i *Ingestor) previousPayload(ctx context.Context, chatID string, currentID uuid.UUID) (map[string]any, error) {
	var raw []byte
	err := db.Get(ctx, i.pool, &raw, `
SELECT payload
FROM diagnostics_snapshots
WHERE chat_id = $1 AND id <> $2
ORDER BY created_at DESC
LIMIT 1
`, chatID, currentID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (i *Ingestor) insertDelta(ctx context.Context, evt diagnosticsEvent, delta map[string]map[string]any) error {
	deltaBytes, err := json.Marshal(delta)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, i.pool, `
INSERT INTO diagnostics_deltas (id, snapshot_id, chat_id, delta, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (snapshot_id) DO NOTHING
`, uuid.New(), evt.SnapshotID, evt.ChatID, deltaBytes, evt.CreatedAt)
	return err
}

// computeDelta reports the keys whose values changed between snapshots, with
// both sides preserved.
func computeDelta(previous, current map[string]any) map[string]map[string]any {
	if previous == nil {
		previous = map[string]any{}
	}
	if current == nil {
		current = map[string]any{}
	}

	delta := make(map[string]map[string]any)

	for key, prevVal := range previous {
		curVal, ok := current[key]
		if !ok {
			delta[key] = map[string]any{"old": prevVal, "new": nil}
			continue
		}
		if !reflect.DeepEqual(prevVal, curVal) {
			delta[key] = map[string]any{"old": prevVal, "new": curVal}
		}
	}

	for key, curVal := range current {
		if _, seen := previous[key]; seen {
			continue
		}
		delta[key] = map[string]any{"old": nil, "new": curVal}
	}

	return delta
}
