package governor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type approvalModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ActionID    string     `gorm:"type:text;not null;index"`
	ChatID      *string    `gorm:"type:text;index"`
	ActionLogID uuid.UUID  `gorm:"type:uuid;not null"`
	HelperToken string     `gorm:"type:text;not null"`
	IssuedAt    time.Time  `gorm:"not null"`
	ExpiresAt   time.Time  `gorm:"not null;index"`
	Consumed    bool       `gorm:"type:boolean;not null"`
	ConsumedAt  *time.Time
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"`
}

func (approvalModel) TableName() string { return "approvals" }

func (m approvalModel) toAPI() Approval {
	return Approval{
		ID:          m.ID,
		ActionID:    m.ActionID,
		ChatID:      m.ChatID,
		ActionLogID: m.ActionLogID,
		HelperToken: m.HelperToken,
		IssuedAt:    m.IssuedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

type jobModel struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ActionID      string         `gorm:"type:text;not null;index"`
	ApprovalID    *uuid.UUID     `gorm:"type:uuid;index"`
	ActionLogID   uuid.UUID      `gorm:"type:uuid;not null"`
	Kind          string         `gorm:"type:text;not null"`
	Status        string         `gorm:"type:text;not null"`
	ExecutionHost string         `gorm:"type:text"`
	BackupID      *uuid.UUID     `gorm:"type:uuid"`
	Logs          datatypes.JSON `gorm:"type:jsonb"`
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"not null;autoUpdateTime"`
}

func (jobModel) TableName() string { return "jobs" }

func (m jobModel) toAPI() ExecutionJob {
	return ExecutionJob{
		ID:            m.ID,
		ActionID:      m.ActionID,
		ActionLogID:   m.ActionLogID,
		ApprovalID:    m.ApprovalID,
		Kind:          m.Kind,
		Status:        m.Status,
		ExecutionHost: m.ExecutionHost,
		BackupID:      m.BackupID,
		Logs:          logLinesFromJSON(m.Logs),
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}

type rollbackPointModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ActionLogID uuid.UUID         `gorm:"type:uuid;not null;index"`
	ActionID    string            `gorm:"type:text;not null;index"`
	Method      string            `gorm:"type:text;not null"`
	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;autoCreateTime"`
}

func (rollbackPointModel) TableName() string { return "rollback_points" }

type actionLogModel struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID        *string           `gorm:"type:text;index"`
	UserID        *string           `gorm:"type:text"`
	ActionType    string            `gorm:"type:text;not null"`
	Status        string            `gorm:"type:text;not null"`
	Summary       string            `gorm:"type:text"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb"`
	ExecutionHost string            `gorm:"type:text"`
	Outcome       string            `gorm:"type:text"`
	CreatedAt     time.Time         `gorm:"not null;index"`
}

func (actionLogModel) TableName() string { return "action_logs" }

func (m actionLogModel) toAuditEvent() AuditEvent {
	return AuditEvent{
		Source:    SourceAction,
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Kind:      m.Status,
		Summary:   m.Summary,
		Payload:   mapFromJSONMap(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}

type consentEventModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID    *string           `gorm:"type:text;index"`
	UserID    *string           `gorm:"type:text"`
	Kind      string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;index"`
}

func (consentEventModel) TableName() string { return "consent_events" }

func (m consentEventModel) toAuditEvent() AuditEvent {
	return AuditEvent{
		Source:    SourceConsent,
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Kind:      m.Kind,
		Payload:   mapFromJSONMap(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}

type diagnosticsSnapshotModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID    *string           `gorm:"type:text;index"`
	UserID    *string           `gorm:"type:text"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;index"`
}

func (diagnosticsSnapshotModel) TableName() string { return "diagnostics_snapshots" }

func (m diagnosticsSnapshotModel) toAuditEvent() AuditEvent {
	return AuditEvent{
		Source:    SourceDiagnostics,
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Kind:      "snapshot",
		Payload:   mapFromJSONMap(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func logLinesFromJSON(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil
	}
	return lines
}

func logLinesToJSON(lines []string) datatypes.JSON {
	if lines == nil {
		lines = []string{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(data)
}
