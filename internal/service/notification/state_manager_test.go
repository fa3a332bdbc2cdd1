package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/internal/repository"
	"marketnotify/pkg/utils"
)

type fixture struct {
	repo    repository.NotificationRepository
	manager *stateManager
	clock   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Notification{}))
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	f := &fixture{
		repo:  repository.NewNotificationRepository(db),
		clock: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewStateManager(f.repo, monitor.NewMetricsCollector(prometheus.NewRegistry())).(*stateManager)
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seed(t *testing.T, id int64, userID string, createdAt time.Time) {
	t.Helper()
	draft := model.NotificationDraft{
		Title:    "Price up",
		Message:  "Electronics prices rose 6%.",
		Category: model.CategoryMarketTrend,
		Priority: model.PriorityHigh,
		Source:   model.SourceHeuristic,
	}
	event := model.MarketChangeEvent{UserID: userID, Market: "electronics", MetricType: model.MetricPrice}
	require.NoError(t, f.repo.Create(context.Background(), model.NewNotification(id, event, draft, createdAt)))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, 1, "u1", f.clock.Add(-time.Hour))

	require.NoError(t, f.manager.MarkRead(ctx, "u1", 1))
	first := f.clock

	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.manager.MarkRead(ctx, "u1", 1))

	n, err := f.repo.GetByID(ctx, "u1", 1)
	require.NoError(t, err)
	require.NotNil(t, n.ReadAt)
	assert.True(t, first.Equal(*n.ReadAt))

	count, err := f.manager.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDismissAfterReadPreservesReadAt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, 1, "u1", f.clock.Add(-time.Hour))

	require.NoError(t, f.manager.MarkRead(ctx, "u1", 1))
	readAt := f.clock

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.manager.Dismiss(ctx, "u1", 1))
	require.NoError(t, f.manager.Dismiss(ctx, "u1", 1))

	n, err := f.repo.GetByID(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, readAt.Equal(*n.ReadAt))
	assert.True(t, f.clock.Equal(*n.DismissedAt))

	// read after dismiss changes nothing
	require.NoError(t, f.manager.MarkRead(ctx, "u1", 1))
	n, err = f.repo.GetByID(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, readAt.Equal(*n.ReadAt))
}

func TestOtherUsersNotificationIsNotFound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, 1, "u1", f.clock)

	assert.ErrorIs(t, f.manager.MarkRead(ctx, "u2", 1), utils.ErrNotificationNotFound)
	assert.ErrorIs(t, f.manager.Dismiss(ctx, "u2", 1), utils.ErrNotificationNotFound)
	assert.ErrorIs(t, f.manager.MarkRead(ctx, "u1", 42), utils.ErrNotificationNotFound)

	count, err := f.manager.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkAllRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		f.seed(t, i, "u1", f.clock.Add(-time.Duration(i)*time.Minute))
	}
	require.NoError(t, f.manager.Dismiss(ctx, "u1", 3))

	n, err := f.manager.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.manager.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		f.seed(t, i, "u1", f.clock.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, f.manager.MarkRead(ctx, "u1", 5))

	page, err := f.manager.List(ctx, "u1", ListOptions{UnreadOnly: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(4), page.Items[0].ID)
	assert.Equal(t, int64(3), page.Items[1].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = f.manager.List(ctx, "u1", ListOptions{UnreadOnly: true, Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Items[0].ID)

	empty, err := f.manager.List(ctx, "nobody", ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}

func TestListRejectsBadInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.manager.List(ctx, "u1", ListOptions{Cursor: "%%%"})
	assert.Equal(t, utils.CodeInvalidParam, utils.GetErrorCode(err))

	_, err = f.manager.List(ctx, "u1", ListOptions{Category: "gossip"})
	assert.Equal(t, utils.CodeValidationFailed, utils.GetErrorCode(err))

	_, err = f.manager.List(ctx, "u1", ListOptions{Limit: 1000})
	assert.Error(t, err)
}

type failingRepo struct {
	repository.NotificationRepository
}

func (failingRepo) CountUnread(context.Context, string) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	m := NewStateManager(failingRepo{}, nil)
	_, err := m.UnreadCount(context.Background(), "u1")
	assert.Equal(t, utils.CodeDatabaseError, utils.GetErrorCode(err))
}
