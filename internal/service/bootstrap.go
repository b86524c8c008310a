package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/internal/engine"
	"github.com/ajitpratap0/orbit/internal/scheduler"
	"github.com/ajitpratap0/orbit/internal/stats"
	"github.com/ajitpratap0/orbit/pkg/archive"
	"github.com/ajitpratap0/orbit/pkg/canonical"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/kafka"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/memory"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/rest"
	"github.com/ajitpratap0/orbit/pkg/connector/base"
	"github.com/ajitpratap0/orbit/pkg/connector/registry"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/secrets"
	"github.com/ajitpratap0/orbit/pkg/store"
	storememory "github.com/ajitpratap0/orbit/pkg/store/memory"
	"github.com/ajitpratap0/orbit/pkg/store/mongo"
	"github.com/ajitpratap0/orbit/pkg/store/postgres"
)

// App owns everything Build created.
type App struct {
	Service   *Service
	Registry  *registry.Registry
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Health    *base.HealthChecker
	Store     store.Store
	Canonical canonical.Store

	logger *zap.Logger
}

// BuildOption customises Build
type BuildOption func(*buildOptions)

type buildOptions struct {
	resolver  secrets.Resolver
	store     store.Store
	canonical canonical.Store
	families  map[string]registry.AdapterFactory
}

// WithResolver replaces the environment secrets resolver
func WithResolver(r secrets.Resolver) BuildOption {
	return func(o *buildOptions) { o.resolver = r }
}

// WithStore uses st instead of opening the configured store
func WithStore(st store.Store) BuildOption {
	return func(o *buildOptions) { o.store = st }
}

// WithCanonical uses c instead of opening the configured canonical store
func WithCanonical(c canonical.Store) BuildOption {
	return func(o *buildOptions) { o.canonical = c }
}

// WithFamily adds or replaces a connector family
func WithFamily(family string, factory registry.AdapterFactory) BuildOption {
	return func(o *buildOptions) { o.families[family] = factory }
}

func defaultFamilies() map[string]registry.AdapterFactory {
	return map[string]registry.AdapterFactory{
		memory.Family: memory.Factory,
		rest.Family:   rest.Factory,
		kafka.Family:  kafka.Factory,
	}
}

// DefaultFamilies names the connector families Build registers, sorted.
func DefaultFamilies() []string {
	families := make([]string, 0, 3)
	for family := range defaultFamilies() {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

// OpenStore opens the job store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := mongo.Open(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "memory":
		return storememory.New(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown store driver %q", cfg.Driver)
	}
}

// NewArchive builds the S3 exporter, or returns nil when no bucket is set.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig, st store.Store) (*archive.Exporter, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	uploader, err := archive.NewS3Uploader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return archive.New(st, uploader, cfg), nil
}

// Build creates every component from a validated configuration, registers
// the configured connectors and creates the configured schedules.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*App, error) {
	o := &buildOptions{
		resolver: secrets.NewEnvResolver(),
		families: defaultFamilies(),
	}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.Get().With(zap.String("component", "bootstrap"))
	app := &App{logger: log}

	st := o.store
	if st == nil {
		var err error
		if st, err = OpenStore(ctx, cfg.Store); err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
	}
	app.Store = st

	canon := o.canonical
	if canon == nil {
		var err error
		if canon, err = canonical.Open(cfg.Canonical); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to open canonical store: %w", err)
		}
	}
	app.Canonical = canon

	reg := registry.NewRegistry(o.resolver)
	for family, factory := range o.families {
		if err := reg.RegisterFamily(family, factory); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	app.Registry = reg
	for i := range cfg.Connectors {
		if err := reg.Register(&cfg.Connectors[i]); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("connector %s: %w", cfg.Connectors[i].ID, err)
		}
	}

	limiters := clients.NewLimiterSet()
	app.Engine = engine.New(cfg.Engine, reg, canon, st, engine.WithLimiters(limiters))

	sched, err := scheduler.New(cfg.Scheduler, st, app.Engine, reg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Scheduler = sched
	for i := range cfg.Schedules {
		if _, err := sched.Schedule(ctx, &cfg.Schedules[i]); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("schedule %s: %w", cfg.Schedules[i].ID, err)
		}
	}

	app.Health = base.NewHealthChecker(reg, cfg.Health)

	exporter, err := NewArchive(ctx, cfg.Archive, st)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Service = New(Components{
		Registry:    reg,
		Engine:      app.Engine,
		Scheduler:   sched,
		Stats:       stats.New(cfg.Stats, st),
		Health:      app.Health,
		Store:       st,
		Archive:     exporter,
		Limiters:    limiters,
		CallTimeout: cfg.Engine.CallTimeout,
	})

	log.Info("orbit components built",
		zap.String("store", cfg.Store.Driver),
		zap.String("canonical", cfg.Canonical.Driver),
		zap.Int("connectors", len(cfg.Connectors)),
		zap.Int("schedules", len(cfg.Schedules)),
		zap.Bool("archive", exporter != nil))
	return app, nil
}

// Close stops the scheduler, lets running jobs settle and releases every
// connection. It is safe on a partially built App.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Health != nil {
		a.Health.Stop()
	}
	if a.Engine != nil {
		if err := a.Engine.Close(); err != nil {
			a.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil {
			a.logger.Warn("registry close failed", zap.Error(err))
		}
	}
	var firstErr error
	if a.Canonical != nil {
		if err := a.Canonical.Close(); err != nil {
			firstErr = fmt.Errorf("close canonical store: %w", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close job store: %w", err)
		}
	}
	return firstErr
}
