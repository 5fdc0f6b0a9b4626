package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"warden/pkg/bus"
)

const (
	jobsQueuedSubject   = "warden.jobs.queued"
	jobsFinishedSubject = "warden.jobs.finished"

	jobStatusQueued  = "queued"
	jobStatusRunning = "running"
	jobStatusFailed  = "failed"

	defaultJobDeadline  = 10 * time.Minute
	defaultSweepEvery   = 30 * time.Second
	outcomeFailure      = "failure"
	staleJobLogTemplate = "job exceeded deadline and was marked failed by the watcher"
)

type jobLifecycleEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	ActionID string    `json:"action_id"`
	Kind     string    `json:"kind"`
	Status   string    `json:"status"`
}

type jobRow struct {
	ID          uuid.UUID `gorm:"column:id"`
	ActionID    string    `gorm:"column:action_id"`
	ActionLogID uuid.UUID `gorm:"column:action_log_id"`
	Kind        string    `gorm:"column:kind"`
	Status      string    `gorm:"column:status"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (jobRow) TableName() string { return "jobs" }

// Watcher tracks in-flight execution jobs and fails the ones whose executor
// never reported back. A remote agent can disappear mid-job; without the
// sweep those jobs would sit queued or running forever.
type Watcher struct {
	orm      *gorm.DB
	bus      *bus.Bus
	deadline time.Duration
	every    time.Duration

	activeMu   sync.RWMutex
	activeJobs map[uuid.UUID]time.Time

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a watcher bound to the provided dependencies.
func New(orm *gorm.DB, b *bus.Bus, deadline, every time.Duration) (*Watcher, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if deadline <= 0 {
		deadline = defaultJobDeadline
	}
	if every <= 0 {
		every = defaultSweepEvery
	}

	return &Watcher{
		orm:        orm,
		bus:        b,
		deadline:   deadline,
		every:      every,
		activeJobs: make(map[uuid.UUID]time.Time),
	}, nil
}

// Start registers bus subscriptions and launches the sweep loop. It returns
// immediately; the loop stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("nil watcher")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if w.bus != nil {
		specs := []struct {
			subject string
			durable string
			handler func(context.Context, []byte) error
		}{
			{jobsQueuedSubject, "watcher-jobs-queued", w.handleJobQueued},
			{jobsFinishedSubject, "watcher-jobs-finished", w.handleJobFinished},
		}
		for _, spec := range specs {
			closer, err := w.bus.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
			if err != nil {
				w.Close()
				return err
			}
			w.subsMu.Lock()
			w.subs = append(w.subs, closer)
			w.subsMu.Unlock()
		}
	}

	go w.loop(ctx)
	return nil
}

// Close tears down active subscriptions.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}

	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	var firstErr error
	for _, sub := range w.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.subs = nil
	return firstErr
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.sweepOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("watcher sweep")
			} else if n > 0 {
				log.Info().Int("failed_jobs", n).Msg("watcher failed stale jobs")
			}
		}
	}
}

func (w *Watcher) handleJobQueued(_ context.Context, data []byte) error {
	var evt jobLifecycleEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.JobID == uuid.Nil {
		return errors.New("job_id missing from queued event")
	}
	w.trackJob(evt.JobID)
	return nil
}

func (w *Watcher) handleJobFinished(_ context.Context, data []byte) error {
	var evt jobLifecycleEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.JobID == uuid.Nil {
		return nil
	}
	w.forgetJob(evt.JobID)
	return nil
}

// sweepOnce fails every queued or running job older than the deadline and
// stamps a failure outcome on its action-log row. Returns how many jobs it
// failed.
func (w *Watcher) sweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.deadline)

	var stale []jobRow
	err := w.orm.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{jobStatusQueued, jobStatusRunning}, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	failed := 0
	now := time.Now().UTC()
	for _, job := range stale {
		logs, _ := json.Marshal([]string{now.Format(time.RFC3339) + " " + staleJobLogTemplate})
		res := w.orm.WithContext(ctx).
			Model(&jobRow{}).
			Where("id = ? AND status IN ?", job.ID, []string{jobStatusQueued, jobStatusRunning}).
			Updates(map[string]any{
				"status":      jobStatusFailed,
				"logs":        logs,
				"finished_at": now,
			})
		if res.Error != nil {
			log.Warn().Err(res.Error).Str("job_id", job.ID.String()).Msg("fail stale job")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		if err := w.orm.WithContext(ctx).
			Table("action_logs").
			Where("id = ?", job.ActionLogID).
			Update("outcome", outcomeFailure).Error; err != nil {
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("stamp stale job outcome")
		}

		w.forgetJob(job.ID)
		failed++

		if w.bus != nil {
			payload := map[string]any{
				"job_id":      job.ID.String(),
				"action_id":   job.ActionID,
				"kind":        job.Kind,
				"status":      jobStatusFailed,
				"outcome":     outcomeFailure,
				"finished_at": now.Format(time.RFC3339),
			}
			if err := w.bus.Publish(ctx, jobsFinishedSubject, payload); err != nil {
				log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("publish stale job finish")
			}
		}
	}

	return failed, nil
}

func (w *Watcher) trackJob(jobID uuid.UUID) {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	if w.activeJobs == nil {
		w.activeJobs = make(map[uuid.UUID]time.Time)
	}
	w.activeJobs[jobID] = time.Now().UTC()
}

func (w *Watcher) forgetJob(jobID uuid.UUID) {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	delete(w.activeJobs, jobID)
}

// ActiveJobs reports how many jobs the watcher currently believes are in
// flight, for health reporting.
func (w *Watcher) ActiveJobs() int {
	w.activeMu.RLock()
	defer w.activeMu.RUnlock()
	return len(w.activeJobs)
}
