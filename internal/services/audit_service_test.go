package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/matchdispatch/internal/models"
)

func TestAuditServiceLogListAndExport(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	user := createUser(t, db, "auditor")

	ctx := context.Background()
	err = svc.Log(ctx, AuditEntry{
		UserID:   &user.ID,
		Actor:    "push_dispatch",
		Action:   AuditActionDeadLettered,
		Channel:  models.ChannelPush,
		Resource: "notification:n-1",
		Result:   "failure",
		Metadata: map[string]any{"attempts": 5},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: "other", Result: "success"}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10, Filters: AuditFilters{UserID: user.ID}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	require.Equal(t, AuditActionDeadLettered, logs[0].Action)
	require.Equal(t, "push_dispatch", logs[0].Actor)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal([]byte(logs[0].Metadata), &metadata))
	require.EqualValues(t, 5, metadata["attempts"])

	byChannel, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{Channel: "push"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, logs[0].ID, byChannel[0].ID)

	exported, err := svc.Export(ctx, AuditFilters{Result: "success"})
	require.NoError(t, err)
	require.Len(t, exported, 1)
	require.Equal(t, "system", exported[0].Actor)
}

func TestAuditServiceLogValidates(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "x"}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	svc.now = fixedClock(testNow)

	oldLog := models.AuditLog{
		BaseModel: models.BaseModel{CreatedAt: testNow.AddDate(0, 0, -10)},
		Action:    "old.action",
		Result:    "success",
		Metadata:  datatypes.JSON("{}"),
	}
	require.NoError(t, db.Create(&oldLog).Error)
	recent := models.AuditLog{
		BaseModel: models.BaseModel{CreatedAt: testNow.Add(-time.Hour)},
		Action:    "recent.action",
		Result:    "success",
	}
	require.NoError(t, db.Create(&recent).Error)

	ctx := context.Background()
	rows, err := svc.CleanupOlderThan(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}

func TestAuditServiceCleanupDeletesInBatches(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	svc.now = fixedClock(testNow)

	expired := make([]models.AuditLog, auditDeleteBatch+3)
	for i := range expired {
		expired[i] = models.AuditLog{
			BaseModel: models.BaseModel{CreatedAt: testNow.AddDate(0, 0, -30).Add(time.Duration(i) * time.Second)},
			Action:    AuditActionSuppressed,
			Result:    "success",
		}
	}
	require.NoError(t, db.CreateInBatches(&expired, 100).Error)

	rows, err := svc.CleanupOlderThan(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(auditDeleteBatch+3), rows)

	var left int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&left).Error)
	require.Zero(t, left)
}

func TestAuditListWindow(t *testing.T) {
	offset, limit := AuditListOptions{Page: 3, PageSize: 20}.window()
	require.Equal(t, 40, offset)
	require.Equal(t, 20, limit)

	offset, limit = AuditListOptions{Page: -1, PageSize: 1000}.window()
	require.Zero(t, offset)
	require.Equal(t, defaultAuditPerPage, limit)
}
