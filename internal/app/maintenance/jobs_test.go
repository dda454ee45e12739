package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/matchdispatch/internal/database/testutil"
	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/push"
)

func TestRegisterStandardJobsHonoursSpecs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	retention, err := services.NewRetentionService(db)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	s := newTestScheduler()
	err = RegisterStandardJobs(s, Services{Retention: retention, Audit: audit}, map[string]JobSpec{
		JobRetentionSweep: {Enabled: true, Schedule: "0 4 * * *"},
		JobAuditRetention: {Enabled: false},
	})
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, JobRetentionSweep, jobs[0].Name)
	require.Equal(t, "0 4 * * *", jobs[0].Schedule)
}

func TestRegisterStandardJobsRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	retention, err := services.NewRetentionService(db)
	require.NoError(t, err)

	s := newTestScheduler()
	err = RegisterStandardJobs(s, Services{Retention: retention}, map[string]JobSpec{
		JobRetentionSweep: {Enabled: true, Schedule: "not a schedule"},
	})
	require.Error(t, err)
}

func TestStandardJobsRunOnceEndToEnd(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithDispatchIndexes())

	require.NoError(t, db.Create(&models.User{
		BaseModel:               models.BaseModel{ID: "muted"},
		Role:                    models.RoleUser,
		PushToken:               "token-muted",
		NotificationPreferences: datatypes.JSON(`{"push":false}`),
	}).Error)
	require.NoError(t, db.Create(&models.User{
		BaseModel: models.BaseModel{ID: "listening"},
		Role:      models.RoleUser,
		PushToken: "token-listening",
	}).Error)

	notifications, err := services.NewNotificationService(db)
	require.NoError(t, err)
	ctx := context.Background()
	for _, userID := range []string{"muted", "listening"} {
		_, err := notifications.Create(ctx, services.CreateNotificationInput{UserID: userID, Type: models.NotificationLike})
		require.NoError(t, err)
	}

	var sent []string
	sender := push.SenderFunc(func(_ context.Context, token, _, _ string, _ map[string]any) error {
		sent = append(sent, token)
		return nil
	})

	prefSync, err := services.NewPreferenceSyncService(db)
	require.NoError(t, err)
	pushSvc, err := services.NewPushDispatchService(db, sender)
	require.NoError(t, err)

	s := newTestScheduler()
	require.NoError(t, RegisterStandardJobs(s, Services{PreferenceSync: prefSync, Push: pushSvc}, nil))
	require.NoError(t, s.RunOnce(ctx))

	require.Equal(t, []string{"token-listening"}, sent)

	var muted models.Notification
	require.NoError(t, db.Where("user_id = ?", "muted").First(&muted).Error)
	require.Equal(t, models.DeliverySuppressed, muted.Push.State)
}

func TestAuditRetentionNeedsPositiveWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	s := newTestScheduler()
	require.NoError(t, RegisterStandardJobs(s, Services{Audit: audit}, nil))
	require.Empty(t, s.Jobs())

	s = newTestScheduler()
	require.NoError(t, RegisterStandardJobs(s, Services{Audit: audit, AuditRetentionDays: 30}, nil))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, JobAuditRetention, jobs[0].Name)
	require.Equal(t, "@daily", jobs[0].Schedule)
}
