package governor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRequiresApproval(t *testing.T) {
	api := newTestAPI(t, Config{})

	_, err := api.Execute(context.Background(), "flush-dns-macos", "", nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalRequired)

	_, err = api.Execute(context.Background(), "flush-dns-macos", "not-a-uuid", nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalRequired)

	_, err = api.Execute(context.Background(), "flush-dns-macos", uuid.NewString(), nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalMismatch)
}

func TestExecuteRejectsMismatchedApproval(t *testing.T) {
	api := newTestAPI(t, Config{})

	approval, err := api.Approve(context.Background(), "flush-dns-macos", nil, nil, nil)
	require.NoError(t, err)

	_, err = api.Execute(context.Background(), "clear-browser-cache", approval.ID.String(), nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalMismatch)
}

func TestExecuteRejectsExpiredApproval(t *testing.T) {
	api := newTestAPI(t, Config{})

	now := time.Now().UTC()
	row := approvalModel{
		ID:          uuid.New(),
		ActionID:    "flush-dns-macos",
		ActionLogID: uuid.New(),
		HelperToken: "stale",
		IssuedAt:    now.Add(-11 * time.Minute),
		ExpiresAt:   now.Add(-time.Second),
		CreatedAt:   now.Add(-11 * time.Minute),
	}
	require.NoError(t, api.store.ORM.Create(&row).Error)

	_, err := api.Execute(context.Background(), "flush-dns-macos", row.ID.String(), nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalExpired)
}

func TestExecuteAcceptsApprovalJustInsideExpiry(t *testing.T) {
	api := newTestAPI(t, Config{EmbeddedDryRun: true})

	now := time.Now().UTC()
	row := approvalModel{
		ID:          uuid.New(),
		ActionID:    "clear-browser-cache",
		ActionLogID: uuid.New(),
		HelperToken: "still-good",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Second),
		CreatedAt:   now,
	}
	require.NoError(t, api.store.ORM.Create(&row).Error)

	job, err := api.Execute(context.Background(), "clear-browser-cache", row.ID.String(), nil, nil, nil)
	require.NoError(t, err)
	waitForJobStatus(t, api, job.ID, JobCompleted)
}

func TestExecuteApprovalIsSingleUse(t *testing.T) {
	api := newTestAPI(t, Config{EmbeddedDryRun: true})

	approval, err := api.Approve(context.Background(), "clear-browser-cache", nil, nil, nil)
	require.NoError(t, err)

	job, err := api.Execute(context.Background(), "clear-browser-cache", approval.ID.String(), nil, nil, nil)
	require.NoError(t, err)
	waitForJobStatus(t, api, job.ID, JobCompleted)

	_, err = api.Execute(context.Background(), "clear-browser-cache", approval.ID.String(), nil, nil, nil)
	require.ErrorIs(t, err, ErrApprovalExpired)
}

func TestExecuteEmbeddedDryRunCompletes(t *testing.T) {
	api := newTestAPI(t, Config{EmbeddedDryRun: true})

	approval, err := api.Approve(context.Background(), "clear-browser-cache", nil, strptr("chat-9"), nil)
	require.NoError(t, err)

	job, err := api.Execute(context.Background(), "clear-browser-cache", approval.ID.String(),
		map[string]any{"browsers": "firefox"}, strptr("chat-9"), nil)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, JobKindExecute, job.Kind)

	done := waitForJobStatus(t, api, job.ID, JobCompleted)
	require.NotEmpty(t, done.Logs)
	assert.Contains(t, done.Logs[0], "dry-run: clear-cache --browser firefox")

	var logRows []actionLogModel
	require.NoError(t, api.store.ORM.Where("status = ?", StatusExecuted).Find(&logRows).Error)
	require.Len(t, logRows, 1)
	require.Eventually(t, func() bool {
		var row actionLogModel
		if err := api.store.ORM.Where("id = ?", logRows[0].ID).First(&row).Error; err != nil {
			return false
		}
		return row.Outcome == OutcomeSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExecuteRemoteWithoutAgentFailsJob(t *testing.T) {
	api := newTestAPI(t, Config{})

	approval, err := api.Approve(context.Background(), "flush-dns-macos", nil, nil, nil)
	require.NoError(t, err)

	job, err := api.Execute(context.Background(), "flush-dns-macos", approval.ID.String(), nil, nil, nil)
	require.NoError(t, err)

	failed := waitForJobStatus(t, api, job.ID, JobFailed)
	require.NotEmpty(t, failed.Logs)
	assert.Contains(t, failed.Logs[0], "executor remote not configured")

	var logRow actionLogModel
	require.NoError(t, api.store.ORM.Where("status = ?", StatusExecuted).First(&logRow).Error)
	require.Eventually(t, func() bool {
		var row actionLogModel
		if err := api.store.ORM.Where("id = ?", logRow.ID).First(&row).Error; err != nil {
			return false
		}
		return row.Outcome == OutcomeFailure
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFinishJobDuplicateReportKeepsSingleRollbackPoint(t *testing.T) {
	api := newTestAPI(t, Config{})

	logID, err := api.appendActionLog(context.Background(), nil, nil,
		"clean-temp-windows", StatusExecuted, "executing Clean temporary files", nil, "remote", "")
	require.NoError(t, err)

	job := jobModel{
		ID:          uuid.New(),
		ActionID:    "clean-temp-windows",
		ActionLogID: logID,
		Kind:        JobKindExecute,
		Status:      JobRunning,
		Logs:        logLinesToJSON(nil),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, api.store.ORM.Create(&job).Error)

	api.finishJob(context.Background(), job.ID, JobCompleted, []string{"done"}, true)
	api.finishJob(context.Background(), job.ID, JobCompleted, []string{"done again"}, true)

	var points []rollbackPointModel
	require.NoError(t, api.store.ORM.Where("action_id = ?", "clean-temp-windows").Find(&points).Error)
	require.Len(t, points, 1)

	got, err := api.JobByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BackupID)
	assert.Equal(t, points[0].ID, *got.BackupID)
}

func TestJobByIDNotFound(t *testing.T) {
	api := newTestAPI(t, Config{})

	_, err := api.JobByID(context.Background(), uuid.New())
	require.Error(t, err)
}
