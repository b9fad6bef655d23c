package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/authz"
	"github.com/platinummonkey/sitework/pkg/config"
	"github.com/platinummonkey/sitework/pkg/httpapi"
	"github.com/platinummonkey/sitework/pkg/jobs"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
	"github.com/platinummonkey/sitework/pkg/storage"
	"github.com/platinummonkey/sitework/pkg/uploads"
)

const usageRolloverJob = "usage-rollover"

// app holds everything main wires together
type app struct {
	handler   http.Handler
	health    *observability.HealthChecker
	backend   storage.Backend
	db        *sql.DB
	redis     *redis.Client
	scheduler *jobs.Scheduler
	watcher   *plans.CatalogWatcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, registry *prometheus.Registry) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled && registry != nil {
		metrics = observability.NewMetrics(registry)
	}

	catalog, err := plans.LoadCatalogFile(cfg.PlanCatalogPath)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == storage.ModeLive {
		a.db, err = storage.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := storage.RunMigrations(ctx, a.db); err != nil {
			return nil, err
		}
	}

	a.backend, err = storage.Open(cfg.Mode, a.db, catalog)
	if err != nil {
		return nil, err
	}
	logger.WithField("mode", a.backend.Mode()).Info("storage backend ready")

	cacheOpts := []rbac.CacheOption{rbac.WithCacheMetrics(metrics)}
	if cfg.Redis.URL != "" {
		a.redis, err = storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		cacheOpts = append(cacheOpts, rbac.WithSharedStore(rbac.NewRedisMembershipStore(a.redis, cfg.Authz.MembershipCache.TTL)))
	}

	bypass, err := cfg.BypassPolicy()
	if err != nil {
		return nil, err
	}

	cache := rbac.NewMembershipCache(a.backend, cfg.Authz.MembershipCache, cacheOpts...)
	checker := rbac.NewChecker(cache, a.backend,
		rbac.WithBypassPolicy(bypass),
		rbac.WithLocale(cfg.Locale),
		rbac.WithMetrics(metrics),
	)
	matrix := rbac.NewMatrixService(a.backend,
		rbac.WithMatrixBypass(bypass),
		rbac.WithMatrixAudit(a.backend),
		rbac.WithMatrixMetrics(metrics),
	)
	workflow := approvals.NewService(a.backend, a.backend, checker,
		approvals.WithHistory(a.backend),
		approvals.WithDenialAudit(a.backend),
		approvals.WithMetrics(metrics),
		approvals.WithLocale(cfg.Locale),
		approvals.WithBypassPolicy(bypass),
	)
	gate := authz.NewGate(a.backend, checker,
		authz.WithAudit(a.backend),
		authz.WithMetrics(metrics),
		authz.WithLocale(cfg.Locale),
	)

	services := httpapi.Services{
		Permissions: checker,
		Matrix:      matrix,
		Approvals:   workflow,
		Limits:      gate,
		Sessions:    cache,
		Audit:       a.backend,
	}
	var bucketCheck observability.CheckFunc
	if cfg.S3.Bucket != "" {
		client, err := uploads.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		bucketCheck = uploads.BucketCheck(client, cfg.S3.Bucket)
		services.Files = uploads.NewBroker(gate, a.backend, s3.NewPresignClient(client), cfg.S3.Bucket,
			uploads.WithTTL(cfg.PresignTTL),
			uploads.WithAudit(a.backend),
			uploads.WithMetrics(metrics),
			uploads.WithLocale(cfg.Locale),
		)
	} else {
		logger.Warn("no S3 bucket configured, upload and download routes are disabled")
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured, every API request will be rejected")
	}

	a.handler = httpapi.NewServer(services,
		httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	a.health = observability.NewHealthChecker(a.db, a.redis, version, string(cfg.Mode))
	if bucketCheck != nil {
		a.health.AddCheck("object_store", bucketCheck)
	}

	if live, ok := a.backend.(*storage.Live); ok {
		if err := a.startMaintenance(cfg, live, logger); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// startMaintenance starts the catalog watcher and the scheduled jobs that
// only make sense against Postgres
func (a *app) startMaintenance(cfg *config.Config, live *storage.Live, logger *observability.Logger) error {
	if cfg.PlanCatalogPath != "" && cfg.WatchPlanCatalog {
		w, err := plans.NewCatalogWatcher(cfg.PlanCatalogPath, live, logger)
		if err != nil {
			return err
		}
		a.watcher = w
		a.watcher.Start()
	}

	if cfg.Jobs.Enabled {
		a.scheduler = jobs.NewScheduler(logger, cfg.Jobs.Timeout)
		if err := a.scheduler.Add(usageRolloverJob, cfg.Jobs.UsageRolloverSpec, jobs.RollUsage(live)); err != nil {
			return err
		}
		a.scheduler.Start()
	}
	return nil
}

// Close releases everything newApp acquired, in reverse order
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
