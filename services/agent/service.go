package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"warden/pkg/signer"
)

const (
	signatureHeader = "X-Warden-Signature"

	maxDescriptorBytes = 1 << 20
	commandTimeout     = 2 * time.Minute
	diagnosticsEvery   = 60 * time.Second
)

// jobDescriptor mirrors the signed unit of work sent by the control plane.
type jobDescriptor struct {
	JobID             string   `json:"job_id"`
	ActionID          string   `json:"action_id"`
	Commands          []string `json:"commands"`
	Reversible        bool     `json:"reversible"`
	BackupPaths       []string `json:"backup_paths,omitempty"`
	BackupKey         string   `json:"backup_key,omitempty"`
	BackupUploadURL   string   `json:"backup_upload_url,omitempty"`
	BackupDownloadURL string   `json:"backup_download_url,omitempty"`
	RollbackOf        string   `json:"rollback_of,omitempty"`
}

// Service is the on-machine execution agent. It accepts signed job
// descriptors over HTTP, runs them, and reports terminal statuses back to the
// control plane. It never decides what to run; the descriptor is the whole
// contract.
type Service struct {
	config   Config
	verifier *signer.Signer
	client   *http.Client
	logger   *log.Logger

	runsMu sync.Mutex
	runs   map[string]struct{}
}

// NewService loads configuration from the provided path and returns an
// initialized Service.
func NewService(configPath string) (*Service, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	verifier, err := signer.New("", cfg.VerifyKey)
	if err != nil {
		return nil, fmt.Errorf("parse verify_key: %w", err)
	}

	return &Service{
		config:   cfg,
		verifier: verifier,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   log.New(os.Stdout, "warden-agent: ", log.LstdFlags),
	}, nil
}

// Run serves the job endpoint and reports diagnostics until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", s.handleJob)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.config.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go s.diagnosticsLoop(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleJob verifies the descriptor signature, acknowledges, and runs the job
// in the background. Verification comes before parsing: an unsigned payload
// gets no feedback about its shape.
func (s *Service) handleJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptorBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.verifier.Verify(body, r.Header.Get(signatureHeader)); err != nil {
		s.logger.Printf("rejected descriptor: %v", err)
		http.Error(w, "signature verification failed", http.StatusForbidden)
		return
	}

	var desc jobDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		http.Error(w, "parse descriptor", http.StatusBadRequest)
		return
	}
	if desc.JobID == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if !s.markRunning(desc.JobID) {
		http.Error(w, "job already running", http.StatusConflict)
		return
	}

	go func() {
		defer s.clearRunning(desc.JobID)
		s.runJob(desc, token)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

func (s *Service) runJob(desc jobDescriptor, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var (
		logs           []string
		status         string
		backupCaptured bool
	)

	if desc.RollbackOf != "" {
		status, logs = s.runRestore(ctx, desc)
	} else {
		status, logs, backupCaptured = s.runExecute(ctx, desc)
	}

	if err := s.report(ctx, desc.JobID, status, logs, backupCaptured, token); err != nil {
		s.logger.Printf("report job %s: %v", desc.JobID, err)
	}
}

func (s *Service) runExecute(ctx context.Context, desc jobDescriptor) (string, []string, bool) {
	var logs []string
	backupCaptured := false

	if desc.Reversible && desc.BackupUploadURL != "" && len(desc.BackupPaths) > 0 {
		if err := s.captureBackup(ctx, desc); err != nil {
			logs = append(logs, logLine(fmt.Sprintf("backup capture failed: %v", err)))
		} else {
			backupCaptured = true
			logs = append(logs, logLine("backup archive uploaded"))
		}
	}

	for _, command := range desc.Commands {
		out, err := runCommand(ctx, command)
		if out != "" {
			logs = append(logs, logLine(out))
		}
		if err != nil {
			logs = append(logs, logLine(fmt.Sprintf("command failed: %v", err)))
			return "failed", logs, backupCaptured
		}
		logs = append(logs, logLine("ok: "+command))
	}

	return "completed", logs, backupCaptured
}

func (s *Service) runRestore(ctx context.Context, desc jobDescriptor) (string, []string) {
	var logs []string

	if desc.BackupDownloadURL == "" {
		logs = append(logs, logLine("no backup archive available for restore"))
		return "failed", logs
	}

	n, err := s.restoreBackup(ctx, desc.BackupDownloadURL, string(os.PathSeparator))
	if err != nil {
		logs = append(logs, logLine(fmt.Sprintf("restore failed: %v", err)))
		return "failed", logs
	}

	logs = append(logs, logLine(fmt.Sprintf("restored %d files from backup archive", n)))
	return "completed", logs
}

func (s *Service) report(ctx context.Context, jobID, status string, logs []string, backupCaptured bool, token string) error {
	payload := map[string]any{
		"job_id":          jobID,
		"status":          status,
		"logs":            logs,
		"backup_captured": backupCaptured,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	url := strings.TrimRight(s.config.API, "/") + "/v1/jobs/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("report unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Service) diagnosticsLoop(ctx context.Context) {
	if err := s.reportDiagnostics(ctx); err != nil {
		s.logger.Printf("initial diagnostics report failed: %v", err)
	}

	ticker := time.NewTicker(diagnosticsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reportDiagnostics(ctx); err != nil {
				s.logger.Printf("diagnostics report failed: %v", err)
			}
		}
	}
}

func (s *Service) reportDiagnostics(ctx context.Context) error {
	payload := map[string]any{
		"payload": buildSnapshot(),
	}
	if s.config.ChatID != "" {
		payload["chat_id"] = s.config.ChatID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(s.config.API, "/") + "/v1/diagnostics"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("post diagnostics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("diagnostics unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Service) markRunning(jobID string) bool {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]struct{})
	}
	if _, busy := s.runs[jobID]; busy {
		return false
	}
	s.runs[jobID] = struct{}{}
	return true
}

func (s *Service) clearRunning(jobID string) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	delete(s.runs, jobID)
}

func logLine(msg string) string {
	return fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), msg)
}
