package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Execute burns the referenced approval and queues an execution job for the
// action's executor. The job is dispatched asynchronously; callers poll
// GET /v1/jobs/{id} or watch the finished event for the terminal status.
func (a *API) Execute(ctx context.Context, actionID, approvalRef string, params map[string]any, chatID, userID *string) (ExecutionJob, error) {
	action, err := a.catalog.Lookup(actionID)
	if err != nil {
		return ExecutionJob{}, err
	}

	if approvalRef == "" {
		return ExecutionJob{}, fmt.Errorf("%w: execution requires an approval id", ErrApprovalRequired)
	}
	approvalID, err := uuid.Parse(approvalRef)
	if err != nil {
		return ExecutionJob{}, fmt.Errorf("%w: malformed approval id %q", ErrApprovalRequired, approvalRef)
	}

	values, err := parameterValues(action, params)
	if err != nil {
		return ExecutionJob{}, err
	}
	commands, err := renderTemplates(action.Commands, values)
	if err != nil {
		return ExecutionJob{}, err
	}
	backupPaths, err := renderTemplates(action.BackupPaths, values)
	if err != nil {
		return ExecutionJob{}, err
	}

	approval, err := a.consumeApproval(ctx, approvalID, action.ID)
	if err != nil {
		if reason := approvalReason(err); reason != "" {
			a.metrics.ExecutionsRejected.WithLabelValues(reason).Inc()
		}
		return ExecutionJob{}, err
	}

	executorName := action.Executor
	if executorName == "" {
		executorName = executorRemote
	}

	logID, err := a.appendActionLog(ctx, chatID, userID, action.ID, StatusExecuted,
		fmt.Sprintf("executing %s", action.Title),
		map[string]any{
			"approval_id": approval.ID.String(),
			"commands":    commands,
			"executor":    executorName,
		}, executorName, "")
	if err != nil {
		return ExecutionJob{}, fmt.Errorf("append executed action log: %w", err)
	}

	job := jobModel{
		ID:          uuid.New(),
		ActionID:    action.ID,
		ApprovalID:  &approval.ID,
		ActionLogID: logID,
		Kind:        JobKindExecute,
		Status:      JobQueued,
		Logs:        logLinesToJSON(nil),
		CreatedAt:   time.Now().UTC(),
	}

	dbCtx, cancel := withTimeout(ctx)
	err = a.store.ORM.WithContext(dbCtx).Create(&job).Error
	cancel()
	if err != nil {
		return ExecutionJob{}, fmt.Errorf("persist job: %w", err)
	}

	desc := JobDescriptor{
		JobID:       job.ID,
		ActionID:    action.ID,
		Commands:    commands,
		Reversible:  action.Reversible,
		BackupPaths: backupPaths,
	}
	if action.Reversible {
		a.attachBackupURLs(ctx, &desc)
	}

	a.publish(ctx, jobsQueuedSubject, map[string]any{
		"job_id":    job.ID.String(),
		"action_id": action.ID,
		"kind":      job.Kind,
		"executor":  executorName,
		"queued_at": job.CreatedAt.Format(time.RFC3339),
	})
	a.metrics.ExecutionsDispatched.WithLabelValues(executorName).Inc()

	go a.dispatchJob(executorName, approval.HelperToken, desc)

	return job.toAPI(), nil
}

// attachBackupURLs presigns the backup upload/download pair for a reversible
// job. Missing object storage downgrades the job to best-effort: it still
// runs, it just cannot capture a restore archive.
func (a *API) attachBackupURLs(ctx context.Context, desc *JobDescriptor) {
	if a.store.S3 == nil || a.config.BackupBucket == "" {
		log.Warn().Str("job_id", desc.JobID.String()).Msg("object storage not configured, skipping backup capture")
		return
	}

	key := fmt.Sprintf("backups/%s/%s.tar.gz", desc.ActionID, desc.JobID)
	upload, err := a.store.S3.PresignPut(ctx, a.config.BackupBucket, key, backupURLTTL)
	if err != nil {
		log.Warn().Err(err).Str("job_id", desc.JobID.String()).Msg("presign backup upload")
		return
	}
	download, err := a.store.S3.PresignGet(ctx, a.config.BackupBucket, key, backupURLTTL)
	if err != nil {
		log.Warn().Err(err).Str("job_id", desc.JobID.String()).Msg("presign backup download")
		return
	}

	desc.BackupKey = key
	desc.BackupUploadURL = upload
	desc.BackupDownloadURL = download
}

// dispatchJob hands the descriptor to its executor on a detached context so
// the HTTP request that queued the job can return immediately.
func (a *API) dispatchJob(executorName, token string, desc JobDescriptor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	exec, ok := a.executors[executorName]
	if !ok {
		a.finishJob(ctx, desc.JobID, JobFailed, []string{logLine("executor " + executorName + " not configured")}, false)
		return
	}

	a.markJobRunning(ctx, desc.JobID)

	result, err := exec.Run(ctx, token, desc)
	if err != nil {
		log.Error().Err(err).Str("job_id", desc.JobID.String()).Str("executor", executorName).Msg("job dispatch failed")
		a.finishJob(ctx, desc.JobID, JobFailed, []string{logLine("dispatch failed: " + err.Error())}, false)
		return
	}

	switch result.Status {
	case resultAccepted:
		// Remote agent owns the job now; the terminal status arrives via
		// POST /v1/jobs/report.
	case resultCompleted:
		a.finishJob(ctx, desc.JobID, JobCompleted, result.Logs, result.BackupCaptured)
	case resultFailed:
		a.finishJob(ctx, desc.JobID, JobFailed, result.Logs, false)
	default:
		a.finishJob(ctx, desc.JobID, JobFailed, append(result.Logs, logLine("unknown executor status "+result.Status)), false)
	}
}

func (a *API) markJobRunning(ctx context.Context, jobID uuid.UUID) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	err := a.store.ORM.WithContext(ctx).
		Model(&jobModel{}).
		Where("id = ? AND status = ?", jobID, JobQueued).
		Updates(map[string]any{"status": JobRunning, "started_at": now}).Error
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("mark job running")
	}
}

// finishJob records the terminal status for a job, captures the rollback
// point for reversible completed executions, and stamps the outcome onto the
// job's action-log row. Only the outcome column of that row is ever touched
// after the append; everything else stays immutable.
func (a *API) finishJob(ctx context.Context, jobID uuid.UUID, status string, logs []string, backupCaptured bool) {
	dbCtx, cancel := withTimeout(ctx)
	defer cancel()

	var job jobModel
	if err := a.store.ORM.WithContext(dbCtx).Where("id = ?", jobID).First(&job).Error; err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("load job for finish")
		return
	}
	if job.Status != JobQueued && job.Status != JobRunning {
		log.Warn().Str("job_id", jobID.String()).Str("status", job.Status).Msg("job already finished")
		return
	}

	now := time.Now().UTC()
	res := a.store.ORM.WithContext(dbCtx).
		Model(&jobModel{}).
		Where("id = ? AND status IN ?", jobID, []string{JobQueued, JobRunning}).
		Updates(map[string]any{
			"status":      status,
			"logs":        logLinesToJSON(append(logLinesFromJSON(job.Logs), logs...)),
			"finished_at": now,
		})
	if res.Error != nil {
		log.Error().Err(res.Error).Str("job_id", jobID.String()).Msg("finish job")
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	// The rollback point lands only after winning the conditional update, so a
	// duplicated terminal report cannot leave an orphan point behind.
	var backupID *uuid.UUID
	if backupCaptured && status == JobCompleted && job.Kind == JobKindExecute {
		point := rollbackPointModel{
			ID:          uuid.New(),
			ActionLogID: job.ActionLogID,
			ActionID:    job.ActionID,
			Method:      "backup_archive",
			Data: toJSONMap(map[string]any{
				"approval_id": approvalRefString(job.ApprovalID),
				"backup_key":  fmt.Sprintf("backups/%s/%s.tar.gz", job.ActionID, job.ID),
				"job_id":      job.ID.String(),
			}),
			CreatedAt: now,
		}
		if err := a.store.ORM.WithContext(dbCtx).Create(&point).Error; err != nil {
			log.Error().Err(err).Str("job_id", jobID.String()).Msg("persist rollback point")
		} else if err := a.store.ORM.WithContext(dbCtx).
			Model(&jobModel{}).
			Where("id = ?", jobID).
			Update("backup_id", point.ID).Error; err != nil {
			log.Error().Err(err).Str("job_id", jobID.String()).Msg("link rollback point")
		} else {
			backupID = &point.ID
		}
	}

	outcome := OutcomeSuccess
	if status != JobCompleted {
		outcome = OutcomeFailure
	}
	err := a.store.ORM.WithContext(dbCtx).
		Model(&actionLogModel{}).
		Where("id = ?", job.ActionLogID).
		Update("outcome", outcome).Error
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("stamp action log outcome")
	}

	a.metrics.JobsFinished.WithLabelValues(status).Inc()
	a.publish(ctx, jobsFinishedSubject, map[string]any{
		"job_id":      jobID.String(),
		"action_id":   job.ActionID,
		"kind":        job.Kind,
		"status":      status,
		"outcome":     outcome,
		"backup_id":   backupRefString(backupID),
		"finished_at": now.Format(time.RFC3339),
	})
}

// JobByID returns one job by id, or gorm.ErrRecordNotFound.
func (a *API) JobByID(ctx context.Context, jobID uuid.UUID) (ExecutionJob, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var job jobModel
	if err := a.store.ORM.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ExecutionJob{}, err
		}
		return ExecutionJob{}, fmt.Errorf("load job: %w", err)
	}
	return job.toAPI(), nil
}

func approvalRefString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func backupRefString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
