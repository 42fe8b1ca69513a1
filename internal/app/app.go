// Package app opens the backends named in the configuration and hands out
// per-caller sessions over them.
package app

import (
	"context"

	"firehouse/internal/auth"
	"firehouse/internal/config"
	"firehouse/internal/db"
	"firehouse/internal/docstore"
	"firehouse/internal/docstore/mongostore"
	"firehouse/internal/docstore/pgstore"
	"firehouse/internal/docstore/sqlitestore"
	"firehouse/internal/forum"
	"firehouse/internal/identity"
	"firehouse/internal/logging"
	"firehouse/internal/rules"
)

type App struct {
	cfg       *config.Config
	log       *logging.Logger
	provider  *identity.Provider
	store     docstore.Store
	partition docstore.Path
	closers   []func()
}

// Session is one caller's view: a session manager and a post catalog
// sharing the same identity.
type Session struct {
	Users *auth.Manager
	Posts *forum.Catalog
}

// Open migrates the sqlite database, which always holds accounts and
// sessions, and opens the document store selected by data.driver.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, partition: docstore.Join(cfg.Root, cfg.Domain)}

	conn, err := db.Open(cfg.Data.SQLite.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { conn.Close() })
	if err := db.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, err
	}
	a.provider = identity.NewProvider(conn, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, log)

	var backend docstore.Store
	switch cfg.Data.Driver {
	case config.DriverMongoDB:
		client, store, err := mongostore.Connect(ctx, cfg.Data.MongoDB.URI, cfg.Data.MongoDB.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn(context.Background(), "mongodb disconnect failed", "error", err)
			}
		})
		backend = store
	case config.DriverPostgres:
		store, err := pgstore.Connect(ctx, cfg.Data.Postgres.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		backend = store
	default:
		backend = sqlitestore.New(conn)
	}
	a.store = docstore.NewGuard(backend, rules.Forum{Root: cfg.Root}, a.provider)

	log.Info(ctx, "backends ready", "driver", cfg.Data.Driver, "partition", string(a.partition))
	return a, nil
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewSession returns a signed-out session.
func (a *App) NewSession() *Session {
	return a.session(a.provider.NewClient())
}

// Resume returns a session signed in with token.
func (a *App) Resume(ctx context.Context, token string) (*Session, error) {
	client, err := a.provider.Resume(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.session(client), nil
}

func (a *App) session(svc identity.Service) *Session {
	users := auth.NewManager(svc, a.store, a.partition, a.log)
	posts := forum.NewCatalog(a.store, a.partition, users, forum.Options{
		PageSize:      a.cfg.Forum.PageSize,
		LegacyListUID: a.cfg.Forum.LegacyListUID,
	}, a.log)
	return &Session{Users: users, Posts: posts}
}
