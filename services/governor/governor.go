package governor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"warden/pkg/bus"
	"warden/pkg/metrics"
	"warden/pkg/render"
	gos3 "warden/pkg/s3"
	"warden/pkg/signer"
	"warden/pkg/tokens"
)

const (
	defaultApprovalTTL = 10 * time.Minute
	backupURLTTL       = 15 * time.Minute

	jobsQueuedSubject   = "warden.jobs.queued"
	jobsFinishedSubject = "warden.jobs.finished"
	consentSubject      = "warden.consent.granted"
	diagnosticsSubject  = "warden.diagnostics.reported"
)

// Store holds external dependencies required by the governor.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}

// Config controls runtime behaviour of the governance engine.
type Config struct {
	// AgentURL is the base URL of the remote execution agent. Empty disables
	// the remote executor; remote actions then fail their jobs with a reason.
	AgentURL string
	// ApprovalTTL bounds how long an issued approval can be executed.
	ApprovalTTL time.Duration
	// BackupBucket receives backup archives for reversible actions.
	BackupBucket string
	// EmbeddedDryRun makes the in-process runner log commands without running them.
	EmbeddedDryRun bool
}

// API wires storage, the allowlist catalog, token minting, and executors
// behind the governance HTTP surface.
type API struct {
	store     *Store
	renderer  *render.Engine
	config    Config
	catalog   *Catalog
	tokens    *tokens.Manager
	signer    *signer.Signer
	metrics   *metrics.Metrics
	executors map[string]Executor
}

// New initialises the governor with sane defaults applied to the provided
// configuration. The signer may be nil; job descriptors are then unsigned.
func New(store *Store, renderer *render.Engine, catalog *Catalog, tokenMgr *tokens.Manager, sign *signer.Signer, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if tokenMgr == nil {
		return nil, errors.New("token manager is required")
	}

	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaultApprovalTTL
	}

	a := &API{
		store:     store,
		renderer:  renderer,
		config:    cfg,
		catalog:   catalog,
		tokens:    tokenMgr,
		signer:    sign,
		metrics:   metrics.Global(),
		executors: map[string]Executor{},
	}

	a.executors[executorEmbedded] = &embeddedRunner{dryRun: cfg.EmbeddedDryRun}
	if cfg.AgentURL != "" {
		a.executors[executorRemote] = newAgentClient(cfg.AgentURL, sign)
	}

	return a, nil
}

// Routes constructs the chi router containing all governor endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/actions", a.handleListActions)
		r.Post("/actions", a.handleAction)
		r.Post("/actions/autofix", a.handleAutofix)
		r.Get("/audit", a.handleAudit)
		r.Get("/jobs/{jobID}", a.handleJobStatus)
		r.Post("/jobs/report", a.handleJobReport)
		r.Post("/consent", a.handleConsent)
		r.Post("/diagnostics", a.handleDiagnostics)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r, nil
}

// publish sends a lifecycle event to the bus. Publishing is advisory: a nil
// bus or a publish error never fails the calling operation.
func (a *API) publish(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	if err := a.store.Bus.Publish(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

// appendActionLog writes one immutable lifecycle row. Prior rows are never
// mutated; every transition is a fresh append.
func (a *API) appendActionLog(ctx context.Context, chatID, userID *string, actionType, status, summary string, payload map[string]any, host, outcome string) (uuid.UUID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := actionLogModel{
		ID:            uuid.New(),
		ChatID:        chatID,
		UserID:        userID,
		ActionType:    actionType,
		Status:        status,
		Summary:       summary,
		Payload:       toJSONMap(payload),
		ExecutionHost: host,
		Outcome:       outcome,
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.store.ORM.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, err
	}
	return row.ID, nil
}
