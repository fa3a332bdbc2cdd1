package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/scheduler"
	"marketnotify/internal/service/classifier"
	"marketnotify/pkg/degrade"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDecodeBatches(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		users   []string
		wantErr string
	}{
		{
			name:  "wrapped",
			input: `{"batches":[{"user_id":"u1","events":[{"market":"eu","metric_type":"price","delta":0.07}]}]}`,
			users: []string{"u1"},
		},
		{
			name:  "bare array",
			input: ` [{"user_id":"u1","events":[]},{"user_id":"u2","events":[]}]`,
			users: []string{"u1", "u2"},
		},
		{
			name:    "empty",
			input:   `{"batches":[]}`,
			wantErr: "no batches",
		},
		{
			name:    "missing user",
			input:   `[{"events":[]}]`,
			wantErr: "batch 0: user_id is required",
		},
		{
			name:    "malformed",
			input:   `{"batches":`,
			wantErr: "decode batches",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := decodeBatches(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			users := make([]string, 0, len(batches))
			for _, b := range batches {
				users = append(users, b.UserID)
			}
			assert.Equal(t, tt.users, users)
		})
	}
}

func TestEnqueueBatches(t *testing.T) {
	mr, client := setupRedis(t)
	source := scheduler.NewRedisBatchSource(client, "ingest:pending")

	batches, err := decodeBatches(strings.NewReader(
		`[{"user_id":"u1","events":[{"market":"eu","metric_type":"price","delta":0.07},{"market":"us","metric_type":"trend","delta":0.01}]}]`))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, enqueueBatches(context.Background(), source, batches, &out))
	assert.Equal(t, "queued 1 batches (2 events), 1 pending\n", out.String())

	items, err := mr.List("ingest:pending")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"user_id":"u1"`)
}

func TestPrintPending(t *testing.T) {
	mr, client := setupRedis(t)
	source := scheduler.NewRedisBatchSource(client, "ingest:pending")
	mr.RPush("ingest:pending", `{"user_id":"u1"}`, `{"user_id":"u2"}`)
	mr.RPush("ingest:pending:dead", "garbage")

	var out bytes.Buffer
	require.NoError(t, printPending(context.Background(), client, source, &out))
	assert.Equal(t, "ingest:pending: 2 pending\ningest:pending:dead: 1 dead\n", out.String())
}

func TestPrintDegradeStatus(t *testing.T) {
	_, client := setupRedis(t)
	dm := degrade.NewDegradeManager(client, 0)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, printDegradeStatus(ctx, dm, &out))
	assert.Equal(t, "no degraded features\n", out.String())

	require.NoError(t, dm.Enable(ctx, classifier.FeatureAI, degrade.Strategy{
		Mode:   "fallback_only",
		Reason: "provider outage",
		SetBy:  "ops",
	}, time.Hour))

	out.Reset()
	require.NoError(t, printDegradeStatus(ctx, dm, &out))
	line := out.String()
	assert.True(t, strings.HasPrefix(line, classifier.FeatureAI+"\tfallback_only\t"))
	assert.Contains(t, line, `reason="provider outage"`)
	assert.Contains(t, line, "by=ops")
	assert.NotContains(t, line, "expires=never")

	require.NoError(t, dm.Disable(ctx, classifier.FeatureAI))
	out.Reset()
	require.NoError(t, printDegradeStatus(ctx, dm, &out))
	assert.Equal(t, "no degraded features\n", out.String())
}
