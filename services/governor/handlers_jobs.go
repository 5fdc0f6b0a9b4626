package governor

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"warden/pkg/tokens"
)

func (a *API) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed job id"))
		return
	}

	job, err := a.JobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, errors.New("job not found"))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type jobReportRequest struct {
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	Logs           []string `json:"logs,omitempty"`
	BackupCaptured bool     `json:"backup_captured,omitempty"`
}

// handleJobReport is the agent's callback with the terminal job status. The
// bearer token must be the helper token minted for the job's approval (or,
// for rollback jobs, for the job itself).
func (a *API) handleJobReport(w http.ResponseWriter, r *http.Request) {
	claims, err := a.bearerClaims(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req jobReportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed job id"))
		return
	}
	if req.Status != JobCompleted && req.Status != JobFailed {
		respondError(w, http.StatusBadRequest, errors.New("status must be completed or failed"))
		return
	}

	job, err := a.JobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, errors.New("job not found"))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if !reportSubjectMatches(claims.Subject, job) {
		respondError(w, http.StatusForbidden, errors.New("token does not cover this job"))
		return
	}

	a.finishJob(r.Context(), jobID, req.Status, req.Logs, req.BackupCaptured)
	respondJSON(w, http.StatusOK, map[string]any{"status": "recorded"})
}

func (a *API) bearerClaims(r *http.Request) (*tokens.Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("bearer token required")
	}
	claims, err := a.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

func reportSubjectMatches(subject string, job ExecutionJob) bool {
	if subject == job.ID.String() {
		return true
	}
	return job.ApprovalID != nil && subject == job.ApprovalID.String()
}
