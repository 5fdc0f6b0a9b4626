package governor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"warden/pkg/render"
	"warden/pkg/tokens"
)

var testDBSeq atomic.Int64

func newTestORM(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:governor-test-%d?mode=memory&cache=shared", testDBSeq.Add(1))
	orm, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, orm.AutoMigrate(
		&approvalModel{},
		&jobModel{},
		&rollbackPointModel{},
		&actionLogModel{},
		&consentEventModel{},
		&diagnosticsSnapshotModel{},
	))
	return orm
}

func newTestAPI(t *testing.T, cfg Config) *API {
	t.Helper()

	catalog, err := LoadCatalog()
	require.NoError(t, err)

	tokenMgr, err := tokens.NewManager("test-secret")
	require.NoError(t, err)

	renderer, err := render.New()
	require.NoError(t, err)

	api, err := New(&Store{ORM: newTestORM(t)}, renderer, catalog, tokenMgr, nil, cfg)
	require.NoError(t, err)
	return api
}

func waitForJobStatus(t *testing.T, api *API, jobID uuid.UUID, want string) ExecutionJob {
	t.Helper()

	var job ExecutionJob
	require.Eventually(t, func() bool {
		var err error
		job, err = api.JobByID(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 20*time.Millisecond, "job %s never reached status %s", jobID, want)
	return job
}

func strptr(s string) *string { return &s }
