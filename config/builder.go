package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/sensorsync"
	"github.com/jpalmerr/sensorsync/internal/store/pgstore"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The store is passed in rather than opened here so callers control its
// lifetime; see [OpenStore].
func BuildOptions(cfg *Config, st sensorsync.Store, logger *slog.Logger) []sensorsync.Option {
	opts := []sensorsync.Option{
		sensorsync.WithPort(cfg.HTTPPort()),
		sensorsync.WithPollInterval(cfg.PollInterval.Duration()),
		sensorsync.WithChannels(cfg.Channels...),
		sensorsync.WithResetOnStart(cfg.ResetEnabled()),
		sensorsync.WithQueryTimeout(cfg.QueryTimeout.Duration()),
		sensorsync.WithHistoryLimits(cfg.History.DefaultLimit, cfg.History.MaxLimit),
	}
	if st != nil {
		opts = append(opts, sensorsync.WithStore(st))
	}
	if logger != nil {
		opts = append(opts, sensorsync.WithLogger(logger))
	}
	if cfg.SubscriberBuffer > 0 {
		opts = append(opts, sensorsync.WithSubscriberBuffer(cfg.SubscriberBuffer))
	}
	return opts
}

// OpenStore opens the store selected by cfg.Store.
//
// For the postgres driver the pool connects lazily, so an unreachable
// database is not an error here; the engine reports it through /health and
// degraded polling. Migrations run when store.migrate is set, and their
// failure is an error.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (sensorsync.Store, error) {
	switch cfg.Store.Driver {
	case DriverMemory, "":
		return sensorsync.NewMemoryStore(), nil

	case DriverPostgres:
		st, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("migrate store: %w", err)
			}
			if logger != nil {
				logger.Info("store migrations applied")
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenPostgres opens the Postgres store described by cfg.Store without
// running migrations.
func OpenPostgres(ctx context.Context, cfg *Config) (*pgstore.Store, error) {
	if cfg.Store.Driver != DriverPostgres {
		return nil, fmt.Errorf("store driver is %q, not %q", cfg.Store.Driver, DriverPostgres)
	}
	st, err := pgstore.Open(ctx, pgstore.Options{
		DSN:            cfg.Store.DSN,
		MaxConns:       cfg.Store.MaxConns,
		ConnectTimeout: cfg.Store.ConnectTimeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return st, nil
}
