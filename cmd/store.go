package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/resilience"
	"github.com/sells-group/goldrate-cli/internal/store"
)

// initStore opens the configured backend. collection overrides the
// configured collection when set.
func initStore(ctx context.Context, collection string) (store.Store, error) {
	if collection == "" {
		collection = cfg.Store.Collection
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL, collection)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, collection, nil)
	case "firestore":
		return store.NewFirestore(ctx, cfg.Store.CredentialsFile, cfg.Store.ProjectID, collection)
	case "redis":
		return store.NewRedis(ctx, cfg.Store.RedisAddr, collection)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initWriter opens and migrates the store and wraps it in a retrying
// writer. Callers close the store via writer.Store().Close().
func initWriter(ctx context.Context, collection string) (*store.Writer, error) {
	st, err := initStore(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breaker := resilience.NewBreaker(resilience.BreakerFromConfig(cfg.Circuit))
	return store.NewWriter(st, cfg.Store.Driver, resilience.PolicyFromConfig(cfg.Retry), breaker), nil
}
