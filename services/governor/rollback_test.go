package governor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackWithoutPointIsSoftNoop(t *testing.T) {
	api := newTestAPI(t, Config{})

	result, err := api.Rollback(context.Background(), "flush-dns-macos", "", strptr("chat-1"), nil)
	require.NoError(t, err)

	assert.Equal(t, "no_rollback", result.Status)
	assert.False(t, result.Restored)
	assert.Nil(t, result.Job)

	var logRow actionLogModel
	require.NoError(t, api.store.ORM.Where("id = ?", result.ActionLogID).First(&logRow).Error)
	assert.Equal(t, StatusCancelled, logRow.Status)
	assert.Equal(t, OutcomeAborted, logRow.Outcome)
	assert.Equal(t, "no_rollback_point", logRow.Payload["reason"])
}

func TestRollbackUnknownAction(t *testing.T) {
	api := newTestAPI(t, Config{})

	_, err := api.Rollback(context.Background(), "nope", "", nil, nil)
	require.ErrorIs(t, err, ErrActionUnknown)
}

func TestRollbackMalformedApprovalRef(t *testing.T) {
	api := newTestAPI(t, Config{})

	_, err := api.Rollback(context.Background(), "clean-temp-windows", "not-a-uuid", nil, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRollbackQueuesReversalJob(t *testing.T) {
	api := newTestAPI(t, Config{})

	now := time.Now().UTC()
	approvalID := uuid.New()
	logID := uuid.New()

	point := rollbackPointModel{
		ID:          uuid.New(),
		ActionLogID: logID,
		ActionID:    "clean-temp-windows",
		Method:      "backup_archive",
		Data: toJSONMap(map[string]any{
			"backup_key": "backups/clean-temp-windows/abc.tar.gz",
		}),
		CreatedAt: now,
	}
	require.NoError(t, api.store.ORM.Create(&point).Error)

	source := jobModel{
		ID:          uuid.New(),
		ActionID:    "clean-temp-windows",
		ApprovalID:  &approvalID,
		ActionLogID: logID,
		Kind:        JobKindExecute,
		Status:      JobCompleted,
		BackupID:    &point.ID,
		Logs:        logLinesToJSON(nil),
		CreatedAt:   now,
	}
	require.NoError(t, api.store.ORM.Create(&source).Error)

	result, err := api.Rollback(context.Background(), "clean-temp-windows", approvalID.String(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "queued", result.Status)
	assert.True(t, result.Restored)
	require.NotNil(t, result.Job)
	assert.Equal(t, JobKindRollback, result.Job.Kind)
	require.NotNil(t, result.RollbackOf)
	assert.Equal(t, source.ID, *result.RollbackOf)

	var logRow actionLogModel
	require.NoError(t, api.store.ORM.Where("id = ?", result.ActionLogID).First(&logRow).Error)
	assert.Equal(t, StatusCancelled, logRow.Status)
	assert.Equal(t, source.ID.String(), logRow.Payload["rollback_of"])
	assert.Equal(t, approvalID.String(), logRow.Payload["approval_id"])
	assert.Equal(t, result.Job.ID.String(), logRow.Payload["job_id"])

	// No remote agent is configured, so the reversal job fails cleanly.
	waitForJobStatus(t, api, result.Job.ID, JobFailed)
}

func TestRollbackLatestPointWithoutApprovalRef(t *testing.T) {
	api := newTestAPI(t, Config{})

	now := time.Now().UTC()
	logID := uuid.New()
	point := rollbackPointModel{
		ID:          uuid.New(),
		ActionLogID: logID,
		ActionID:    "clean-temp-windows",
		Method:      "backup_archive",
		Data:        toJSONMap(map[string]any{"backup_key": "backups/clean-temp-windows/xyz.tar.gz"}),
		CreatedAt:   now,
	}
	require.NoError(t, api.store.ORM.Create(&point).Error)

	source := jobModel{
		ID:          uuid.New(),
		ActionID:    "clean-temp-windows",
		ActionLogID: logID,
		Kind:        JobKindExecute,
		Status:      JobCompleted,
		BackupID:    &point.ID,
		Logs:        logLinesToJSON(nil),
		CreatedAt:   now,
	}
	require.NoError(t, api.store.ORM.Create(&source).Error)

	result, err := api.Rollback(context.Background(), "clean-temp-windows", "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Restored)
	require.NotNil(t, result.RollbackOf)
	assert.Equal(t, source.ID, *result.RollbackOf)
}
