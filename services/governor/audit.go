package governor

import (
	"context"
	"fmt"
	"sort"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditFilter narrows the merged timeline. Zero values mean "no filter".
type AuditFilter struct {
	ChatID string
	Limit  int
	Offset int
}

// normalized clamps the page bounds to their documented range.
func (f AuditFilter) normalized() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = defaultAuditLimit
	}
	if f.Limit > maxAuditLimit {
		f.Limit = maxAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Timeline merges the action log, consent events, and diagnostics snapshots
// into one newest-first stream. Each source is queried independently with the
// same window so the merged page is exact regardless of how the events
// interleave across tables.
func (a *API) Timeline(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	filter = filter.normalized()
	limit, offset := filter.Limit, filter.Offset
	window := offset + limit

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var actions []actionLogModel
	q := a.store.ORM.WithContext(ctx).Model(&actionLogModel{})
	if filter.ChatID != "" {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(window).Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("load action log: %w", err)
	}

	var consents []consentEventModel
	q = a.store.ORM.WithContext(ctx).Model(&consentEventModel{})
	if filter.ChatID != "" {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(window).Find(&consents).Error; err != nil {
		return nil, fmt.Errorf("load consent events: %w", err)
	}

	var snapshots []diagnosticsSnapshotModel
	q = a.store.ORM.WithContext(ctx).Model(&diagnosticsSnapshotModel{})
	if filter.ChatID != "" {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(window).Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("load diagnostics snapshots: %w", err)
	}

	merged := make([]AuditEvent, 0, len(actions)+len(consents)+len(snapshots))
	for _, row := range actions {
		merged = append(merged, row.toAuditEvent())
	}
	for _, row := range consents {
		merged = append(merged, row.toAuditEvent())
	}
	for _, row := range snapshots {
		merged = append(merged, row.toAuditEvent())
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return auditLess(merged[i], merged[j])
	})

	if offset >= len(merged) {
		return []AuditEvent{}, nil
	}
	end := offset + limit
	if end > len(merged) {
		end = len(merged)
	}
	return merged[offset:end], nil
}

// auditLess orders events newest first. Equal timestamps break on source
// name, then id, so pagination across requests is stable.
func auditLess(a, b AuditEvent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.ID.String() > b.ID.String()
}
