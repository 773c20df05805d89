package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/hbsportsdirector/rstse-sub000/cache"
	"github.com/hbsportsdirector/rstse-sub000/config"
	"github.com/hbsportsdirector/rstse-sub000/pgstore"
	"github.com/hbsportsdirector/rstse-sub000/provider/local"
	"github.com/hbsportsdirector/rstse-sub000/repository"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// app wires the configured stores, the local provider and the reconciler.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *bun.DB
	pg         *pgstore.Store
	redis      *redis.Client
	provider   *local.IdentityProvider
	reconciler *auth.Reconciler
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: cfg.NewLogger(logOut)}

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = db

	if _, err := repository.Migrate(ctx, db); err != nil {
		a.close()
		return nil, err
	}

	var store auth.ProfileStore = repository.NewProfileRepository(db)
	if strings.EqualFold(cfg.StoreBackend, "pgx") {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.pg = pg
		store = pg
	}

	if cfg.ReplicationLag > 0 {
		store = repository.NewLaggingStore(store, cfg.ReplicationLag)
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		store = cache.NewProfileCache(store, client,
			cache.WithTTL(cfg.ProfileCacheTTL),
			cache.WithLoggerProvider(auth.NewSlogProvider(a.logger)),
		)
	}

	provider, err := local.NewIdentityProvider([]byte(cfg.JWTSigningKey),
		local.WithAccountStore(repository.NewIdentityRepository(db)),
		local.WithIssuer(cfg.JWTIssuer),
		local.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.provider = provider

	a.reconciler = auth.NewReconciler(provider, store,
		auth.WithConfig(cfg),
		auth.WithLoggerProvider(auth.NewSlogProvider(a.logger)),
		auth.WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
			a.logger.Debug("activity",
				"event", event.EventType,
				"subject_id", event.SubjectID,
				"cycle_id", event.CycleID,
				"to", event.ToState,
			)
			return nil
		})),
	)
	return a, nil
}

func (a *app) accessToken(ctx context.Context) string {
	session, err := a.provider.CurrentSession(ctx)
	if err != nil || session == nil {
		return ""
	}
	return session.AccessToken
}

func (a *app) close() {
	if a.reconciler != nil {
		_ = a.reconciler.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database failed", "error", err)
		}
	}
}

type sessionOutput struct {
	User        *auth.User `json:"user"`
	AccessToken string     `json:"accessToken,omitempty"`
	State       string     `json:"state"`
}

func (a *app) output(ctx context.Context) sessionOutput {
	snap := a.reconciler.Snapshot()
	return sessionOutput{
		User:        snap.User,
		AccessToken: a.accessToken(ctx),
		State:       string(snap.State.Kind),
	}
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
