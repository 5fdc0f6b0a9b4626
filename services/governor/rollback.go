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

const rollbackTokenTTL = 10 * time.Minute

// Rollback restores the state captured before a prior execution. A missing
// rollback point is not an error: the request is acknowledged with a
// no_rollback status, logged as a cancelled action with an aborted outcome,
// and nothing is restored.
func (a *API) Rollback(ctx context.Context, actionID, approvalRef string, chatID, userID *string) (RollbackResult, error) {
	action, err := a.catalog.Lookup(actionID)
	if err != nil {
		return RollbackResult{}, err
	}

	point, sourceJob, err := a.findRollbackPoint(ctx, action.ID, approvalRef)
	if err != nil {
		return RollbackResult{}, err
	}

	if point == nil {
		logID, logErr := a.appendActionLog(ctx, chatID, userID, action.ID, StatusCancelled,
			fmt.Sprintf("rollback of %s skipped: no rollback point", action.Title),
			map[string]any{
				"action_id":   action.ID,
				"approval_id": approvalRef,
				"reason":      "no_rollback_point",
			}, "", OutcomeAborted)
		if logErr != nil {
			return RollbackResult{}, fmt.Errorf("append cancelled action log: %w", logErr)
		}
		return RollbackResult{Status: "no_rollback", Restored: false, ActionLogID: logID}, nil
	}

	jobID := uuid.New()
	logID, err := a.appendActionLog(ctx, chatID, userID, action.ID, StatusCancelled,
		fmt.Sprintf("rolling back %s", action.Title),
		map[string]any{
			"action_id":         action.ID,
			"approval_id":       approvalRefString(sourceJob.ApprovalID),
			"job_id":            jobID.String(),
			"rollback_of":       sourceJob.ID.String(),
			"rollback_point_id": point.ID.String(),
		}, executorForAction(action), "")
	if err != nil {
		return RollbackResult{}, fmt.Errorf("append rollback action log: %w", err)
	}

	job := jobModel{
		ID:          jobID,
		ActionID:    action.ID,
		ApprovalID:  sourceJob.ApprovalID,
		ActionLogID: logID,
		Kind:        JobKindRollback,
		Status:      JobQueued,
		BackupID:    &point.ID,
		Logs:        logLinesToJSON(nil),
		CreatedAt:   time.Now().UTC(),
	}

	dbCtx, cancel := withTimeout(ctx)
	err = a.store.ORM.WithContext(dbCtx).Create(&job).Error
	cancel()
	if err != nil {
		return RollbackResult{}, fmt.Errorf("persist rollback job: %w", err)
	}

	desc := JobDescriptor{
		JobID:      job.ID,
		ActionID:   action.ID,
		Reversible: false,
		RollbackOf: sourceJob.ID.String(),
	}
	a.attachRestoreURL(ctx, &desc, point)

	token, err := a.tokens.Mint(job.ID.String(), action.ID, chatRefString(chatID), time.Now().UTC().Add(rollbackTokenTTL))
	if err != nil {
		return RollbackResult{}, fmt.Errorf("mint rollback token: %w", err)
	}

	executorName := executorForAction(action)
	a.publish(ctx, jobsQueuedSubject, map[string]any{
		"job_id":      job.ID.String(),
		"action_id":   action.ID,
		"kind":        job.Kind,
		"executor":    executorName,
		"rollback_of": sourceJob.ID.String(),
		"queued_at":   job.CreatedAt.Format(time.RFC3339),
	})
	a.metrics.RollbacksRequested.Inc()

	go a.dispatchJob(executorName, token, desc)

	apiJob := job.toAPI()
	return RollbackResult{
		Status:      "queued",
		Restored:    true,
		Job:         &apiJob,
		ActionLogID: logID,
		RollbackOf:  &sourceJob.ID,
	}, nil
}

// findRollbackPoint resolves the restore target. With an approval reference
// it is the point captured by that approval's completed execution; without
// one, the most recent point for the action. A nil point with a nil error
// means there is nothing to restore.
func (a *API) findRollbackPoint(ctx context.Context, actionID, approvalRef string) (*rollbackPointModel, *jobModel, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var job jobModel
	if approvalRef != "" {
		approvalID, err := uuid.Parse(approvalRef)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: malformed approval id %q", ErrValidation, approvalRef)
		}
		err = a.store.ORM.WithContext(ctx).
			Where("approval_id = ? AND action_id = ? AND kind = ? AND status = ?",
				approvalID, actionID, JobKindExecute, JobCompleted).
			Order("created_at DESC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load source job: %w", err)
		}
	} else {
		err := a.store.ORM.WithContext(ctx).
			Where("action_id = ? AND kind = ? AND status = ? AND backup_id IS NOT NULL",
				actionID, JobKindExecute, JobCompleted).
			Order("created_at DESC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load source job: %w", err)
		}
	}

	if job.BackupID == nil {
		return nil, nil, nil
	}

	var point rollbackPointModel
	err := a.store.ORM.WithContext(ctx).Where("id = ?", *job.BackupID).First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load rollback point: %w", err)
	}
	return &point, &job, nil
}

// attachRestoreURL presigns a fresh download URL for the backup archive named
// in the rollback point. Without storage the agent receives no archive and
// the restore fails on its side with a clear log line.
func (a *API) attachRestoreURL(ctx context.Context, desc *JobDescriptor, point *rollbackPointModel) {
	if a.store.S3 == nil || a.config.BackupBucket == "" {
		log.Warn().Str("job_id", desc.JobID.String()).Msg("object storage not configured, rollback has no archive")
		return
	}
	key, _ := point.Data["backup_key"].(string)
	if key == "" {
		return
	}
	download, err := a.store.S3.PresignGet(ctx, a.config.BackupBucket, key, backupURLTTL)
	if err != nil {
		log.Warn().Err(err).Str("job_id", desc.JobID.String()).Msg("presign restore download")
		return
	}
	desc.BackupKey = key
	desc.BackupDownloadURL = download
}

func executorForAction(action AllowlistedAction) string {
	if action.Executor == "" {
		return executorRemote
	}
	return action.Executor
}

func chatRefString(chatID *string) string {
	if chatID == nil {
		return ""
	}
	return *chatID
}
