package governor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAuditRows(t *testing.T, api *API, chatID string, base time.Time) {
	t.Helper()

	chat := chatID
	for i := 0; i < 3; i++ {
		require.NoError(t, api.store.ORM.Create(&actionLogModel{
			ID:         uuid.New(),
			ChatID:     &chat,
			ActionType: "flush-dns-macos",
			Status:     StatusProposed,
			Summary:    "proposed Flush DNS cache",
			Payload:    toJSONMap(nil),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, api.store.ORM.Create(&consentEventModel{
			ID:        uuid.New(),
			ChatID:    &chat,
			Kind:      "remote_access_granted",
			Payload:   toJSONMap(nil),
			CreatedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}).Error)
	}
	require.NoError(t, api.store.ORM.Create(&diagnosticsSnapshotModel{
		ID:        uuid.New(),
		ChatID:    &chat,
		Payload:   toJSONMap(map[string]any{"cpu": 12.5}),
		CreatedAt: base.Add(90 * time.Second),
	}).Error)
}

func TestTimelineMergesSourcesNewestFirst(t *testing.T) {
	api := newTestAPI(t, Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAuditRows(t, api, "chat-1", base)

	events, err := api.Timeline(context.Background(), AuditFilter{ChatID: "chat-1"})
	require.NoError(t, err)
	require.Len(t, events, 6)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.After(events[i-1].CreatedAt),
			"events must be newest first")
	}

	sources := map[string]int{}
	for _, ev := range events {
		sources[ev.Source]++
	}
	assert.Equal(t, 3, sources[SourceAction])
	assert.Equal(t, 2, sources[SourceConsent])
	assert.Equal(t, 1, sources[SourceDiagnostics])
}

func TestTimelinePagination(t *testing.T) {
	api := newTestAPI(t, Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAuditRows(t, api, "chat-1", base)

	page1, err := api.Timeline(context.Background(), AuditFilter{ChatID: "chat-1", Limit: 4})
	require.NoError(t, err)
	require.Len(t, page1, 4)

	page2, err := api.Timeline(context.Background(), AuditFilter{ChatID: "chat-1", Limit: 4, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page2, 2)

	seen := map[uuid.UUID]bool{}
	for _, ev := range append(page1, page2...) {
		assert.False(t, seen[ev.ID], "event %s appeared on both pages", ev.ID)
		seen[ev.ID] = true
	}

	assert.False(t, page2[0].CreatedAt.After(page1[len(page1)-1].CreatedAt))
}

func TestTimelineFiltersByChat(t *testing.T) {
	api := newTestAPI(t, Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAuditRows(t, api, "chat-1", base)
	seedAuditRows(t, api, "chat-2", base)

	events, err := api.Timeline(context.Background(), AuditFilter{ChatID: "chat-2"})
	require.NoError(t, err)
	require.Len(t, events, 6)
	for _, ev := range events {
		require.NotNil(t, ev.ChatID)
		assert.Equal(t, "chat-2", *ev.ChatID)
	}
}

func TestTimelineOffsetBeyondEnd(t *testing.T) {
	api := newTestAPI(t, Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAuditRows(t, api, "chat-1", base)

	events, err := api.Timeline(context.Background(), AuditFilter{ChatID: "chat-1", Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTimelineClampsLimit(t *testing.T) {
	api := newTestAPI(t, Config{})

	events, err := api.Timeline(context.Background(), AuditFilter{Limit: 10_000})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTimelineTieBreakIsStable(t *testing.T) {
	api := newTestAPI(t, Config{})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chat := "chat-1"

	require.NoError(t, api.store.ORM.Create(&consentEventModel{
		ID: uuid.New(), ChatID: &chat, Kind: "remote_access_granted",
		Payload: toJSONMap(nil), CreatedAt: ts,
	}).Error)
	require.NoError(t, api.store.ORM.Create(&actionLogModel{
		ID: uuid.New(), ChatID: &chat, ActionType: "flush-dns-macos",
		Status: StatusProposed, Payload: toJSONMap(nil), CreatedAt: ts,
	}).Error)
	require.NoError(t, api.store.ORM.Create(&diagnosticsSnapshotModel{
		ID: uuid.New(), ChatID: &chat, Payload: toJSONMap(nil), CreatedAt: ts,
	}).Error)

	events, err := api.Timeline(context.Background(), AuditFilter{ChatID: chat})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, SourceAction, events[0].Source)
	assert.Equal(t, SourceConsent, events[1].Source)
	assert.Equal(t, SourceDiagnostics, events[2].Source)
}
