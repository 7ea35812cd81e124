package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/humanitarian-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
	"github.com/couchcryptid/humanitarian-data-etl/internal/gazetteer"
	"github.com/couchcryptid/humanitarian-data-etl/internal/matcher"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/pipeline"
	"github.com/couchcryptid/humanitarian-data-etl/internal/rawstore"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/acled"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/idmc"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/iomdtm"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/reliefweb"
	"github.com/couchcryptid/humanitarian-data-etl/internal/store/memory"
	"github.com/couchcryptid/humanitarian-data-etl/internal/store/postgres"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

// app is the wired dependency graph for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	index     *gazetteer.Index
	raw       *rawstore.FileStore
	store     pipeline.ObservationStore
	recorder  unmatched.Recorder
	publisher *kafka.Writer
	adapters  []source.Adapter
	closers   []func() error
}

// newApp loads the gazetteer and opens the optional sinks. DATABASE_URL selects
// PostgreSQL for observations and unmatched locations; otherwise both are kept
// in memory for the life of the process.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
	}

	index, err := gazetteer.LoadFile(cfg.GazetteerFile)
	if err != nil {
		return nil, fmt.Errorf("load gazetteer: %w", err)
	}
	a.index = index
	logger.Info("gazetteer loaded", "file", cfg.GazetteerFile, "locations", index.Len(), "sources", index.Sources())

	a.raw = rawstore.NewFileStore(cfg.RawDataDir, a.clock)

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, a.clock)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, errors.Join(err, a.Close())
		}
		a.store, a.recorder = pg, pg
		logger.Info("postgres store enabled")
	} else {
		a.store, a.recorder = memory.New(), unmatched.NewRegistry(a.clock)
		logger.Info("DATABASE_URL not set, observations are kept in memory")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = kafka.NewWriter(cfg, logger)
		a.closers = append(a.closers, a.publisher.Close)
		logger.Info("kafka publisher enabled", "topic", cfg.KafkaSinkTopic)
	}

	base := matcher.New(index, cfg.CountryName)
	deps := source.Deps{
		Scope: source.Scope{
			CountryName:  cfg.CountryName,
			ISO3:         cfg.CountryISO3,
			HistoryStart: cfg.HistoryStart,
		},
		HTTP: source.ClientConfig{
			Timeout:     cfg.SourceHTTPTimeout,
			RateLimit:   cfg.SourceRateLimit,
			Concurrency: int64(cfg.SourceConcurrency),
		},
		Matcher:   matcher.NewCachedMatcher(base, cfg.MatchCacheSize, a.metrics.MatchCache),
		Unmatched: a.recorder,
		Raw:       a.raw,
		Clock:     a.clock,
		Logger:    logger,
		Metrics:   a.metrics,
	}

	a.adapters, err = selectAdapters(buildAdapters(cfg, deps), cfg.Sources)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func buildAdapters(cfg *config.Config, deps source.Deps) []source.Adapter {
	idmcCfg := idmc.Config{APIKey: cfg.IDMCAPIKey}
	return []source.Adapter{
		idmc.NewGIDD(idmcCfg, deps),
		idmc.NewIDU(idmcCfg, deps),
		acled.New(acled.Config{Username: cfg.ACLEDUsername, APIKey: cfg.ACLEDAPIKey}, deps),
		iomdtm.New(iomdtm.Config{APIKey: cfg.IOMAPIKey}, deps),
		reliefweb.New(reliefweb.Config{AppName: cfg.ReliefWebAppName}, deps),
	}
}

// selectAdapters filters by source name or its slug ("IDMC IDU" or "idmc_idu").
func selectAdapters(all []source.Adapter, names []string) ([]source.Adapter, error) {
	if len(names) == 0 {
		return all, nil
	}
	var out []source.Adapter
	for _, name := range names {
		found := false
		for _, a := range all {
			if strings.EqualFold(a.Name(), name) || rawstore.Slug(a.Name()) == rawstore.Slug(name) {
				out = append(out, a)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown source %q (known: %s)", name, knownSources(all))
		}
	}
	return out, nil
}

func knownSources(all []source.Adapter) string {
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = rawstore.Slug(a.Name())
	}
	return strings.Join(names, ", ")
}

func (a *app) orchestrator(force bool) *pipeline.Orchestrator {
	cfg := pipeline.Config{
		Adapters:    a.adapters,
		Store:       a.store,
		Raw:         a.raw,
		Clock:       a.clock,
		Logger:      a.logger,
		Metrics:     a.metrics,
		Concurrency: a.cfg.SourceConcurrency,
		MaxAttempts: a.cfg.RetryMaxAttempts,
		Force:       force,
	}
	if a.publisher != nil {
		cfg.Publisher = a.publisher
	}
	return pipeline.New(cfg)
}

// Close releases sinks in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
