package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/model"
	"marketnotify/internal/service/ingest"
	"marketnotify/pkg/lock"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

type recordingRunner struct {
	mu      sync.Mutex
	batches [][]model.UserBatch
	block   chan struct{}
}

func (r *recordingRunner) ProcessBatches(_ context.Context, batches []model.UserBatch) []ingest.IngestResult {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.batches = append(r.batches, batches)
	r.mu.Unlock()

	results := make([]ingest.IngestResult, 0, len(batches))
	for _, b := range batches {
		results = append(results, ingest.IngestResult{UserID: b.UserID, Persisted: 1, Suppressed: len(b.Events) - 1})
	}
	return results
}

func (r *recordingRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func batch(user string, n int) model.UserBatch {
	b := model.UserBatch{UserID: user}
	for i := 0; i < n; i++ {
		b.Events = append(b.Events, model.MarketChangeEvent{UserID: user, Market: "toys", MetricType: model.MetricPrice, Delta: 0.1})
	}
	return b
}

func TestRedisBatchSource(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	src := NewRedisBatchSource(client, "ingest:pending")

	require.NoError(t, src.Enqueue(ctx, batch("u1", 2), batch("u2", 1)))
	_, err := mr.RPush("ingest:pending", "{not json")
	require.NoError(t, err)
	_, err = mr.RPush("ingest:pending", `{"events":[]}`)
	require.NoError(t, err)
	require.NoError(t, src.Enqueue(ctx, batch("u3", 1)))

	pending, err := src.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pending)

	got, err := src.Next(ctx, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Len(t, got[0].Events, 2)
	assert.Equal(t, "u2", got[1].UserID)

	dead, err := mr.List(src.DeadKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json", `{"events":[]}`}, dead)

	got, err = src.Next(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u3", got[0].UserID)

	got, err = src.Next(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunOnce(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	src := NewRedisBatchSource(client, "ingest:pending")
	require.NoError(t, src.Enqueue(ctx, batch("u1", 3), batch("u2", 1), batch("u3", 2)))

	runner := &recordingRunner{}
	s := New(src, runner, WithMaxBatches(2))

	stats, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Batches: 2, Users: 2, Persisted: 2, Suppressed: 2}, stats)

	stats, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Batches)

	stats, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)
	assert.Equal(t, 2, runner.calls())
}

func TestRunOnce_LocalGuard(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	src := NewRedisBatchSource(client, "ingest:pending")
	require.NoError(t, src.Enqueue(ctx, batch("u1", 1)))

	runner := &recordingRunner{block: make(chan struct{})}
	s := New(src, runner)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.running.Load() }, time.Second, time.Millisecond)

	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(runner.block)
	require.NoError(t, <-done)
}

func TestRunOnce_ClusterLock(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	src := NewRedisBatchSource(client, "ingest:pending")
	require.NoError(t, src.Enqueue(ctx, batch("u1", 1)))

	locker := lock.NewLocker(client, "scheduler:lock:", time.Minute)
	runner := &recordingRunner{}
	s := New(src, runner, WithLocker(locker))

	require.NoError(t, mr.Set("scheduler:lock:cycle", "other-instance"))
	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Zero(t, runner.calls())

	mr.Del("scheduler:lock:cycle")
	stats, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Users)
	assert.False(t, mr.Exists("scheduler:lock:cycle"))
}

type failingSource struct{}

func (failingSource) Next(context.Context, int) ([]model.UserBatch, error) {
	return nil, errors.New("redis down")
}

func TestRunOnce_SourceError(t *testing.T) {
	runner := &recordingRunner{}
	_, err := New(failingSource{}, runner).RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, runner.calls())
}

func TestStartStop(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	src := NewRedisBatchSource(client, "ingest:pending")
	require.NoError(t, src.Enqueue(ctx, batch("u1", 1)))

	runner := &recordingRunner{}
	s := New(src, runner, WithSpec("* * * * * *"))
	assert.True(t, s.NextRun().IsZero())

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return !s.NextRun().IsZero() }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return runner.calls() == 1 }, 3*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestStart_BadSpec(t *testing.T) {
	s := New(failingSource{}, &recordingRunner{}, WithSpec("not a cron spec"))
	assert.Error(t, s.Start())
}
