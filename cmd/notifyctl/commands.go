package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"marketnotify/internal/config"
	"marketnotify/internal/model"
	"marketnotify/internal/scheduler"
	"marketnotify/internal/service/classifier"
	"marketnotify/internal/utils"
	"marketnotify/pkg/degrade"
)

// --------------------------------------------------------------------------
// ingest
// --------------------------------------------------------------------------

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Queue user batches for the next monitoring cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedis(func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error {
				in, err := openInput(args[0])
				if err != nil {
					return err
				}
				defer in.Close()

				batches, err := decodeBatches(in)
				if err != nil {
					return err
				}
				source := scheduler.NewRedisBatchSource(client, cfg.Scheduler.PendingKey)
				return enqueueBatches(ctx, source, batches, cmd.OutOrStdout())
			})
		},
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// decodeBatches accepts either {"batches":[...]} or a bare array of batches.
func decodeBatches(r io.Reader) ([]model.UserBatch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var batches []model.UserBatch
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &batches)
	} else {
		var wrapped struct {
			Batches []model.UserBatch `json:"batches"`
		}
		err = json.Unmarshal(data, &wrapped)
		batches = wrapped.Batches
	}
	if err != nil {
		return nil, fmt.Errorf("decode batches: %w", err)
	}
	if len(batches) == 0 {
		return nil, errors.New("no batches in input")
	}

	// events are checked by the ingestor, which reports bad ones as invalid_event
	for i, b := range batches {
		if strings.TrimSpace(b.UserID) == "" {
			return nil, fmt.Errorf("batch %d: user_id is required", i)
		}
	}
	return batches, nil
}

type batchQueue interface {
	Enqueue(ctx context.Context, batches ...model.UserBatch) error
	Pending(ctx context.Context) (int64, error)
}

func enqueueBatches(ctx context.Context, q batchQueue, batches []model.UserBatch, out io.Writer) error {
	if err := q.Enqueue(ctx, batches...); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	events := 0
	for _, b := range batches {
		events += len(b.Events)
	}
	fmt.Fprintf(out, "queued %d batches (%d events), %d pending\n", len(batches), events, pending)
	return nil
}

// --------------------------------------------------------------------------
// pending
// --------------------------------------------------------------------------

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show queued and dead-lettered batch counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedis(func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error {
				source := scheduler.NewRedisBatchSource(client, cfg.Scheduler.PendingKey)
				return printPending(ctx, client, source, cmd.OutOrStdout())
			})
		},
	}
}

func printPending(ctx context.Context, client goredis.Cmdable, source *scheduler.RedisBatchSource, out io.Writer) error {
	pending, err := source.Pending(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	dead, err := client.LLen(ctx, source.DeadKey()).Result()
	if err != nil {
		return fmt.Errorf("count dead: %w", err)
	}
	fmt.Fprintf(out, "%s: %d pending\n%s: %d dead\n", source.Key(), pending, source.DeadKey(), dead)
	return nil
}

// --------------------------------------------------------------------------
// degrade
// --------------------------------------------------------------------------

func degradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "degrade",
		Short: "Switch AI classification off and on across all instances",
	}
	cmd.AddCommand(degradeEnableCmd())
	cmd.AddCommand(degradeDisableCmd())
	cmd.AddCommand(degradeStatusCmd())
	return cmd
}

func degradeEnableCmd() *cobra.Command {
	var (
		reason string
		setBy  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Force heuristic-only classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedis(func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error {
				dm := degrade.NewDegradeManager(client, 0)
				strategy := degrade.Strategy{Mode: "fallback_only", Reason: reason, SetBy: setBy}
				if err := dm.Enable(ctx, classifier.FeatureAI, strategy, ttl); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s degraded\n", classifier.FeatureAI)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Why the AI classifier is being bypassed")
	cmd.Flags().StringVar(&setBy, "by", os.Getenv("USER"), "Operator name recorded with the switch")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Expire the switch after this long (0 keeps it until disabled)")
	return cmd
}

func degradeDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Resume AI classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedis(func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error {
				if err := degrade.NewDegradeManager(client, 0).Disable(ctx, classifier.FeatureAI); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s restored\n", classifier.FeatureAI)
				return nil
			})
		},
	}
}

func degradeStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List degraded features",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedis(func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error {
				return printDegradeStatus(ctx, degrade.NewDegradeManager(client, 0), cmd.OutOrStdout())
			})
		},
	}
}

func printDegradeStatus(ctx context.Context, dm *degrade.DegradeManager, out io.Writer) error {
	status, err := dm.Status(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		fmt.Fprintln(out, "no degraded features")
		return nil
	}

	features := make([]string, 0, len(status))
	for f := range status {
		features = append(features, f)
	}
	sort.Strings(features)

	for _, f := range features {
		s := status[f]
		if s == nil {
			fmt.Fprintf(out, "%s\tdegraded\n", f)
			continue
		}
		expires := "never"
		if !s.Expires.IsZero() {
			expires = s.Expires.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s\t%s\treason=%q\tby=%s\texpires=%s\n", f, s.Mode, s.Reason, s.SetBy, expires)
	}
	return nil
}

// --------------------------------------------------------------------------
// token
// --------------------------------------------------------------------------

func tokenCmd() *cobra.Command {
	var expire time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user (local testing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if expire == 0 {
				expire = cfg.Security.JWT.Expire
			}
			jwt := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, expire)
			token, err := jwt.GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expire, "expire", 0, "Token lifetime (defaults to security.jwt.expire)")
	return cmd
}
