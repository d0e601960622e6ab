package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/diazhh/alcaldia-saas/cmd/alcaldiactl/cli"
	"github.com/diazhh/alcaldia-saas/internal/app"
	"github.com/diazhh/alcaldia-saas/internal/platform/cache"
	"github.com/diazhh/alcaldia-saas/internal/platform/db"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/rbac/catalog"
	"github.com/diazhh/alcaldia-saas/internal/roles"
	"github.com/diazhh/alcaldia-saas/internal/seed"
	"github.com/diazhh/alcaldia-saas/internal/shared"
	"github.com/diazhh/alcaldia-saas/internal/users"
	"github.com/diazhh/alcaldia-saas/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4, MaxConnIdleTime: cfg.DBMaxConnIdleTime})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		pool.Close()
		return nil, err
	}
	cat, err := catalog.Load()
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	store := rbac.NewPGStore(pool)
	authzCache := rbac.NewCache(redisClient, cfg.AuthzCacheOptions(logger, nil))
	authorizer := rbac.NewAuthorizer(rbac.NewResolver(store, logger), authzCache, logger)
	auditLogger := shared.NewAuditLogger(pool)
	jobClient := jobs.NewClient(cfg.AsynqRedis())
	assignments := rbac.NewAssignmentService(store, authorizer, auditLogger, logger)

	return &cli.Runtime{
		Seeder: &seed.Seeder{
			Catalog:     cat,
			Permissions: store,
			Users:       users.NewService(users.NewRepository(pool), authorizer, auditLogger, logger),
			Roles:       roles.NewService(roles.NewRepository(pool), authorizer, jobClient, auditLogger, logger),
			Assignments: assignments,
			Invalidator: authorizer,
			Logger:      logger,
		},
		Assignments: assignments,
		Authorizer:  authorizer,
		Jobs:        jobClient,
		Close: func() error {
			err := jobClient.Close()
			if cerr := redisClient.Close(); err == nil {
				err = cerr
			}
			pool.Close()
			return err
		},
	}, nil
}
