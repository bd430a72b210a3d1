package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/biometric"
	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/database"
	"github.com/kozaktomas/face-enroll/internal/database/postgres"
	"github.com/kozaktomas/face-enroll/internal/database/redisstreak"
	"github.com/kozaktomas/face-enroll/internal/database/sqlite"
	"github.com/kozaktomas/face-enroll/internal/detector"
	"github.com/kozaktomas/face-enroll/internal/logging"
)

// app holds everything a command needs to talk to the engine.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    database.Store
	detector *detector.Pool
	streaks  *redisstreak.Store
	index    *database.CentroidIndex
	engine   *biometric.Engine
}

type appOptions struct {
	// withIndex loads or builds the HNSW centroid index
	withIndex bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	policy, err := cfg.LoadPolicy()
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.detector, err = detector.Open(ctx, cfg.Detector)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening face detector: %w", err)
	}
	log.WithField("adapter", a.detector.Version()).Info("face detector ready")

	engineOpts := []biometric.Option{biometric.WithLogger(log)}
	if cfg.Redis.Addr != "" {
		a.streaks, err = redisstreak.New(ctx, cfg.Redis, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, biometric.WithStreakStore(a.streaks))
	}
	if cfg.Detector.LivenessCheck {
		engineOpts = append(engineOpts, biometric.WithLiveness(biometric.TextureLiveness{}))
	}
	if opts.withIndex {
		a.index = database.NewCentroidIndex(a.detector.Version())
		engineOpts = append(engineOpts, biometric.WithCentroidIndex(a.index))
	}

	a.engine, err = biometric.NewEngine(a.detector, a.store, *policy, engineOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	if a.index != nil {
		if err := a.loadIndex(ctx); err != nil {
			log.WithError(err).Warn("centroid index unavailable, search falls back to brute force")
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.URL != "" {
		store, err := postgres.Open(ctx, &a.cfg.Database, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.store = store
		a.log.Info("using PostgreSQL store")
		return nil
	}

	store, err := sqlite.Open(a.cfg.SQLite.Path, a.log)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// loadIndex restores the persisted centroid index, rebuilding it from the
// store when it is missing or stale.
func (a *app) loadIndex(ctx context.Context) error {
	path := a.cfg.Database.HNSWIndexPath
	if path == "" {
		return a.engine.RebuildIndex(ctx)
	}

	centroids, err := a.store.ListCentroids(ctx, a.engine.Adapter())
	if err != nil {
		return fmt.Errorf("listing centroids: %w", err)
	}
	loaded, err := a.index.Load(path, centroids)
	if err != nil {
		a.index.Build(centroids)
		a.log.WithError(err).Warn("failed to load centroid index, rebuilt from store")
	}
	a.log.WithFields(logrus.Fields{"identities": a.index.Len(), "from_disk": loaded}).Info("centroid index ready")
	return nil
}

// saveIndex persists the centroid index when a path is configured.
func (a *app) saveIndex() {
	if a.index == nil || a.cfg.Database.HNSWIndexPath == "" {
		return
	}
	if err := a.index.Save(a.cfg.Database.HNSWIndexPath); err != nil {
		a.log.WithError(err).Warn("failed to save centroid index")
		return
	}
	a.log.WithField("path", a.cfg.Database.HNSWIndexPath).Info("centroid index saved")
}

func (a *app) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.streaks != nil {
		_ = a.streaks.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close store")
		}
	}
}
