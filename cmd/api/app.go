package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/handler"
	"marketnotify/internal/middleware"
	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/internal/realtime"
	"marketnotify/internal/repository"
	"marketnotify/internal/scheduler"
	"marketnotify/internal/service/classifier"
	"marketnotify/internal/service/delivery"
	"marketnotify/internal/service/ingest"
	"marketnotify/internal/service/notification"
	"marketnotify/internal/service/preference"
	"marketnotify/internal/service/throttle"
	"marketnotify/internal/utils"
	"marketnotify/pkg/breaker"
	"marketnotify/pkg/degrade"
	"marketnotify/pkg/limiter"
	"marketnotify/pkg/lock"
	"marketnotify/pkg/log"
	"marketnotify/pkg/queue"
	"marketnotify/pkg/snowflake"
)

const (
	version = "1.0.0"

	degradeCacheTTL   = 5 * time.Second
	userLockPrefix    = "lock:user:"
	cycleLockPrefix   = "lock:scheduler:"
	ingestLimitPrefix = "rate_limit:ingest:"
)

// app everything main wires together. Tests build it against sqlite and miniredis.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	redis    goredis.UniversalClient
	registry *prometheus.Registry
	metrics  *monitor.MetricsCollector
	tracer   *monitor.Tracer

	queue     *queue.MemoryQueue
	hub       *realtime.Hub
	cache     *classifier.Cached
	ingestor  *ingest.Ingestor
	source    *scheduler.RedisBatchSource
	scheduler *scheduler.Scheduler
	apiLimit  *limiter.KeyedLimiter
	jwt       *utils.JWTManager

	router           *gin.Engine
	cancel           context.CancelFunc
	schedulerStarted bool
}

func newApp(cfg *config.Config, db *gorm.DB, rdb goredis.UniversalClient, tracer *monitor.Tracer) (*app, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cfg:      cfg,
		db:       db,
		redis:    rdb,
		registry: prometheus.NewRegistry(),
		tracer:   tracer,
		cancel:   cancel,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = monitor.NewMetricsCollector(a.registry)

	if err := a.build(ctx); err != nil {
		cancel()
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	// Repositories
	notificationRepo := repository.NewNotificationRepository(a.db)
	preferenceRepo := repository.NewPreferenceRepository(a.db)

	prefService := preference.NewPreferenceService(preferenceRepo)
	stateManager := notification.NewStateManager(notificationRepo, a.metrics)

	cls, err := a.buildClassifier(ctx)
	if err != nil {
		return err
	}

	var tracker throttle.Tracker
	switch cfg.Throttle.Backend {
	case "memory":
		tracker = throttle.NewMemoryTracker()
	default:
		tracker = throttle.NewRedisTracker(a.redis, cfg.Throttle.KeyPrefix)
	}

	// In-app deliveries travel through the queue to the websocket hub.
	a.queue, err = queue.NewMemoryQueue(&queue.MemoryQueueConfig{
		BufferSize: cfg.Delivery.InApp.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create message queue: %w", err)
	}
	a.hub = realtime.NewHub(cfg.Security.CORS.AllowOrigins, a.metrics)

	channels, err := buildChannels(cfg, a.queue)
	if err != nil {
		return err
	}
	routerOpts := []delivery.Option{
		delivery.WithTimeout(cfg.Delivery.Timeout),
		delivery.WithMetrics(a.metrics),
		delivery.WithTracer(a.tracer),
	}
	for name, rate := range cfg.Delivery.RateLimit {
		routerOpts = append(routerOpts, delivery.WithRateLimit(model.Channel(name), rate.RPS, rate.Burst))
	}
	deliveryRouter := delivery.NewRouter(notificationRepo, channels, routerOpts...)

	ids, err := snowflake.NewIDGenerator(cfg.Ingest.NodeID)
	if err != nil {
		return fmt.Errorf("failed to create ID generator: %w", err)
	}

	deps := ingest.Dependencies{
		Classifier:  cls,
		Preferences: prefService,
		Tracker:     tracker,
		Store:       notificationRepo,
		Router:      deliveryRouter,
		IDs:         ids,
		Metrics:     a.metrics,
		Tracer:      a.tracer,
	}
	if cfg.Ingest.UserLock {
		deps.Locker = ingest.NewRedisUserLocker(lock.NewLocker(a.redis, userLockPrefix, cfg.Ingest.LockTTL))
	}
	a.ingestor = ingest.NewIngestor(deps, cfg.Ingest.Workers)

	a.source = scheduler.NewRedisBatchSource(a.redis, cfg.Scheduler.PendingKey)
	a.scheduler = scheduler.New(a.source, a.ingestor,
		scheduler.WithSpec(cfg.Scheduler.Spec),
		scheduler.WithMaxBatches(cfg.Scheduler.MaxBatches),
		scheduler.WithTimeout(cfg.Scheduler.LockTTL),
		scheduler.WithLocker(lock.NewLocker(a.redis, cycleLockPrefix, cfg.Scheduler.LockTTL)),
	)

	a.jwt = utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, cfg.Security.JWT.Expire)
	a.apiLimit = limiter.NewKeyedLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.TTL)

	a.router = a.setupRouter(
		handler.NewIngestHandler(a.ingestor, a.source),
		handler.NewPreferenceHandler(prefService),
		handler.NewNotificationHandler(stateManager, a.hub),
	)
	return nil
}

// buildClassifier AI behind a breaker and cache, falling back to the heuristic.
// Without an endpoint the heuristic is used alone.
func (a *app) buildClassifier(ctx context.Context) (classifier.Classifier, error) {
	cfg := a.cfg.Classifier
	heuristic := classifier.NewHeuristic()
	degrader := degrade.NewDegradeManager(a.redis, degradeCacheTTL)

	var primary classifier.Classifier
	if cfg.Endpoint != "" {
		cb := breaker.NewCircuitBreaker("classifier", breaker.Config{
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: breaker.ConsecutiveFailures(cfg.Breaker.FailureThreshold),
			OnStateChange: func(name string, from, to breaker.State) {
				a.metrics.SetBreakerState(name, int(to))
				log.Component("classifier").WithFields(map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state changed")
			},
		})
		primary = classifier.NewAI(classifier.AIConfig{
			Endpoint:    cfg.Endpoint,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
			BackoffMax:  cfg.BackoffMax,
		}, &http.Client{}, cb)

		if cfg.Cache.Enabled {
			cached, err := classifier.NewCached(ctx, primary, classifier.CacheConfig{
				TTL:          cfg.Cache.TTL,
				MaxSizeMB:    cfg.Cache.MaxSizeMB,
				CleanWindow:  cfg.Cache.CleanWindow,
				MaxEntrySize: cfg.Cache.MaxEntrySize,
			}, a.metrics)
			if err != nil {
				return nil, fmt.Errorf("failed to create classifier cache: %w", err)
			}
			a.cache = cached
			primary = cached
		}
	} else {
		log.Component("classifier").Warn("no classifier endpoint configured, using heuristic classification only")
	}

	return classifier.NewFallback(primary, heuristic, degrader, a.metrics, a.tracer), nil
}

func buildChannels(cfg *config.Config, q queue.Queue) ([]delivery.Channel, error) {
	channels := []delivery.Channel{delivery.NewInAppChannel(q)}

	if cfg.Delivery.Email.Enabled {
		email, err := delivery.NewEmailChannel(delivery.EmailConfig{
			Host:      cfg.Delivery.Email.Host,
			Port:      cfg.Delivery.Email.Port,
			Username:  cfg.Delivery.Email.Username,
			Password:  cfg.Delivery.Email.Password,
			From:      cfg.Delivery.Email.From,
			AddressOf: cfg.Delivery.Email.AddressOf,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure email channel: %w", err)
		}
		channels = append(channels, email)
	}

	if cfg.Delivery.Push.Enabled {
		push, err := delivery.NewPushChannel(cfg.Delivery.Push.Endpoint, cfg.Delivery.Push.APIKey, &http.Client{})
		if err != nil {
			return nil, fmt.Errorf("failed to configure push channel: %w", err)
		}
		channels = append(channels, push)
	}
	return channels, nil
}

func (a *app) setupRouter(ingestHandler *handler.IngestHandler, prefHandler *handler.PreferenceHandler, notifHandler *handler.NotificationHandler) *gin.Engine {
	cfg := a.cfg
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.Security.CORS.AllowOrigins))
	router.Use(middleware.Metrics(a.metrics))

	healthHandler := handler.NewHealthHandler(version, map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return database.Health(ctx, a.db) },
		"redis":    func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout:  cfg.Server.WriteTimeout,
		SkipFunc: middleware.SkipWebsocket,
	}))
	{
		ingestLimit := limiter.NewSlidingWindowLimiter(a.redis, ingestLimitPrefix, cfg.RateLimit.IngestPerMinute, time.Minute)
		v1.POST("/ingest",
			middleware.IngestKey(cfg.Security.IngestKey),
			middleware.RateLimit(ingestLimit),
			ingestHandler.Ingest,
		)

		protected := v1.Group("")
		protected.Use(middleware.AuthWithConfig(middleware.AuthConfig{
			TokenValidator: a.jwt.UserID,
			QueryParam:     "access_token",
		}))
		if cfg.RateLimit.Enabled {
			protected.Use(middleware.RateLimit(a.apiLimit))
		}
		{
			protected.GET("/preferences", prefHandler.GetPreferences)
			protected.PUT("/preferences", prefHandler.UpdatePreferences)
			protected.DELETE("/preferences", prefHandler.ResetPreferences)

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", notifHandler.ListNotifications)
				notifications.GET("/unread-count", notifHandler.UnreadCount)
				notifications.GET("/stream", notifHandler.Stream)
				notifications.POST("/read-all", notifHandler.MarkAllRead)
				notifications.POST("/:id/read", notifHandler.MarkRead)
				notifications.POST("/:id/dismiss", notifHandler.Dismiss)
			}
		}
	}

	return router
}

// start subscribes the hub and launches the limiter sweeper and the scheduler.
func (a *app) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	prev := a.cancel
	a.cancel = func() {
		cancel()
		prev()
	}

	if err := a.hub.Run(ctx, a.queue); err != nil {
		return fmt.Errorf("failed to subscribe realtime hub: %w", err)
	}
	go a.apiLimit.RunSweeper(ctx, a.cfg.RateLimit.TTL)

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		a.schedulerStarted = true
		log.WithFields(map[string]interface{}{
			"spec":     a.cfg.Scheduler.Spec,
			"next_run": a.scheduler.NextRun(),
		}).Info("Scheduler started")
	}
	return nil
}

// close stops background work and releases everything the app owns.
func (a *app) close(ctx context.Context) error {
	var err error
	if a.schedulerStarted {
		err = multierr.Append(err, a.scheduler.Stop(ctx))
	}
	a.cancel()
	if a.queue != nil {
		err = multierr.Append(err, a.queue.Close())
	}
	if a.cache != nil {
		err = multierr.Append(err, a.cache.Close())
	}
	return err
}
