package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordConsent appends one consent event and announces it on the bus.
func (a *API) RecordConsent(ctx context.Context, kind string, payload map[string]any, chatID, userID *string) (AuditEvent, error) {
	if kind == "" {
		return AuditEvent{}, fmt.Errorf("%w: consent kind is required", ErrValidation)
	}

	row := consentEventModel{
		ID:        uuid.New(),
		ChatID:    chatID,
		UserID:    userID,
		Kind:      kind,
		Payload:   toJSONMap(payload),
		CreatedAt: time.Now().UTC(),
	}

	dbCtx, cancel := withTimeout(ctx)
	err := a.store.ORM.WithContext(dbCtx).Create(&row).Error
	cancel()
	if err != nil {
		return AuditEvent{}, fmt.Errorf("persist consent event: %w", err)
	}

	a.publish(ctx, consentSubject, map[string]any{
		"consent_id": row.ID.String(),
		"kind":       kind,
		"chat_id":    chatRefString(chatID),
		"created_at": row.CreatedAt.Format(time.RFC3339),
	})
	return row.toAuditEvent(), nil
}

// RecordDiagnostics appends one diagnostics snapshot. When the bus is
// connected the snapshot is also published for the ingest pipeline; the
// direct insert is the source of truth either way.
func (a *API) RecordDiagnostics(ctx context.Context, payload map[string]any, chatID, userID *string) (AuditEvent, error) {
	if len(payload) == 0 {
		return AuditEvent{}, fmt.Errorf("%w: diagnostics payload is required", ErrValidation)
	}

	row := diagnosticsSnapshotModel{
		ID:        uuid.New(),
		ChatID:    chatID,
		UserID:    userID,
		Payload:   toJSONMap(payload),
		CreatedAt: time.Now().UTC(),
	}

	dbCtx, cancel := withTimeout(ctx)
	err := a.store.ORM.WithContext(dbCtx).Create(&row).Error
	cancel()
	if err != nil {
		return AuditEvent{}, fmt.Errorf("persist diagnostics snapshot: %w", err)
	}

	a.publish(ctx, diagnosticsSubject, map[string]any{
		"snapshot_id": row.ID.String(),
		"chat_id":     chatRefString(chatID),
		"payload":     payload,
		"created_at":  row.CreatedAt.Format(time.RFC3339),
	})
	return row.toAuditEvent(), nil
}
