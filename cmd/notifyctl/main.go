// Command notifyctl is the operator CLI for the notification engine.
//
// Usage:
//
//	notifyctl ingest batches.json
//	notifyctl pending
//	notifyctl degrade enable --reason "provider outage" --ttl 1h
//	notifyctl degrade disable
//	notifyctl degrade status
//	notifyctl token user-42
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"marketnotify/internal/config"
	"marketnotify/internal/redis"
	"marketnotify/pkg/log"
)

var configPath string

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Market notification engine operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(ingestCmd())
	root.AddCommand(pendingCmd())
	root.AddCommand(degradeCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// runRedis loads config, connects to redis and runs fn with an interruptible context.
func runRedis(fn func(ctx context.Context, cfg *config.Config, client goredis.Cmdable) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := redis.Init(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redis.Close()

	return fn(ctx, cfg, client)
}
