package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Approval struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ActionID    string     `gorm:"type:text;not null;index"`
	ChatID      *string    `gorm:"type:text;index"`
	ActionLogID uuid.UUID  `gorm:"type:uuid;not null"`
	HelperToken string     `gorm:"type:text;not null"`
	IssuedAt    time.Time  `gorm:"type:timestamptz;not null"`
	ExpiresAt   time.Time  `gorm:"type:timestamptz;not null;index"`
	Consumed    bool       `gorm:"type:boolean;not null;default:false"`
	ConsumedAt  *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Job struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ActionID      string         `gorm:"type:text;not null;index"`
	ApprovalID    *uuid.UUID     `gorm:"type:uuid;index"`
	ActionLogID   uuid.UUID      `gorm:"type:uuid;not null"`
	Kind          string         `gorm:"type:text;not null"`
	Status        string         `gorm:"type:text;not null"`
	ExecutionHost string         `gorm:"type:text"`
	BackupID      *uuid.UUID     `gorm:"type:uuid"`
	Logs          datatypes.JSON `gorm:"type:jsonb"`
	StartedAt     *time.Time     `gorm:"type:timestamptz"`
	FinishedAt    *time.Time     `gorm:"type:timestamptz"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type RollbackPoint struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ActionLogID uuid.UUID         `gorm:"type:uuid;not null;index"`
	ActionID    string            `gorm:"type:text;not null;index"`
	Method      string            `gorm:"type:text;not null"`
	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ActionLog struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID        *string           `gorm:"type:text;index:idx_action_logs_chat_created,priority:1"`
	UserID        *string           `gorm:"type:text"`
	ActionType    string            `gorm:"type:text;not null"`
	Status        string            `gorm:"type:text;not null"`
	Summary       string            `gorm:"type:text"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb"`
	ExecutionHost string            `gorm:"type:text"`
	Outcome       string            `gorm:"type:text"`
	CreatedAt     time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_action_logs_chat_created,priority:2"`
}

type ConsentEvent struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID    *string           `gorm:"type:text;index:idx_consent_events_chat_created,priority:1"`
	UserID    *string           `gorm:"type:text"`
	Kind      string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_consent_events_chat_created,priority:2"`
}

type DiagnosticsSnapshot struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ChatID    *string           `gorm:"type:text;index:idx_diag_snapshots_chat_created,priority:1"`
	UserID    *string           `gorm:"type:text"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_diag_snapshots_chat_created,priority:2"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Approval{},
		&Job{},
		&RollbackPoint{},
		&ActionLog{},
		&ConsentEvent{},
		&DiagnosticsSnapshot{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&DiagnosticsSnapshot{},
		&ConsentEvent{},
		&ActionLog{},
		&RollbackPoint{},
		&Job{},
		&Approval{},
	)
}
