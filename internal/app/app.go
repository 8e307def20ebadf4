// Package app wires configuration into a running analysis service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/timmy/bloodcell/internal/api/handler"
	"github.com/timmy/bloodcell/internal/classifier"
	"github.com/timmy/bloodcell/internal/config"
	"github.com/timmy/bloodcell/internal/explain"
	"github.com/timmy/bloodcell/internal/jobstore"
	"github.com/timmy/bloodcell/internal/logger"
	"github.com/timmy/bloodcell/internal/preprocess"
	"github.com/timmy/bloodcell/internal/repository"
	"github.com/timmy/bloodcell/internal/service"
	"github.com/timmy/bloodcell/internal/storage"
)

// App holds the service and the resources it owns.
type App struct {
	Service      *service.AnalysisService
	HealthChecks []handler.Check

	closers []func() error
}

// Build connects every configured backend and assembles the analysis service.
// Optional backends (object storage, Qdrant) are only dialed when enabled.
// Parameters:
//   - ctx: bounds bucket and collection setup.
//   - cfg: loaded configuration.
//
// Returns:
//   - *App: assembled application; call Close when done.
//   - error: non-nil if a required backend cannot be initialized.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	ctx = logger.SetComponent(ctx, "bootstrap")
	a := &App{}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	a.HealthChecks = append(a.HealthChecks, handler.Check{
		Name:  "database",
		Probe: func(ctx context.Context) error { return repository.Ping(ctx, db) },
	})

	deps := service.Dependencies{
		Store: jobstore.NewMemoryStore(),
		Preprocessor: preprocess.New(preprocess.Options{
			MinWidth:      cfg.Analysis.MinWidth,
			MinHeight:     cfg.Analysis.MinHeight,
			TargetSize:    cfg.Analysis.TargetSize,
			MinBrightness: cfg.Analysis.MinBrightness,
			MaxBrightness: cfg.Analysis.MaxBrightness,
		}),
		Archive:   repository.NewAnalysisRepository(db),
		FollowUps: repository.NewFollowUpRepository(db),
	}

	deps.Classifier, err = classifier.New(classifier.Config{
		Provider:     cfg.Classifier.Provider,
		Endpoint:     cfg.Classifier.Endpoint,
		APIKey:       cfg.Classifier.APIKey,
		Timeout:      cfg.Classifier.Timeout,
		WBCTolerance: cfg.Analysis.WBCSumTolerance,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	deps.Explainer, err = explain.New(explain.Config{
		Provider:  cfg.Explanation.Provider,
		Model:     cfg.Explanation.Model,
		APIKey:    cfg.Explanation.APIKey,
		BaseURL:   cfg.Explanation.BaseURL,
		Timeout:   cfg.Explanation.Timeout,
		MaxTokens: cfg.Explanation.MaxTokens,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := deps.Explainer.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if cfg.Storage.Enabled {
		images, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := images.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
		deps.Images = images
		a.HealthChecks = append(a.HealthChecks, handler.Check{Name: "storage", Probe: images.Ping})
	}

	if cfg.Qdrant.Enabled {
		cases, err := repository.NewCaseIndex(&cfg.Qdrant)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
		}
		a.closers = append(a.closers, cases.Close)
		if err := cases.EnsureCollection(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		deps.Cases = cases
		a.HealthChecks = append(a.HealthChecks, handler.Check{Name: "qdrant", Probe: cases.Ping})
	}

	a.Service = service.NewAnalysisService(deps, service.AnalysisConfig{
		Workers:        cfg.Analysis.Workers,
		StageTimeout:   cfg.Analysis.StageTimeout,
		Retention:      cfg.Analysis.Retention,
		SweepInterval:  cfg.Analysis.SweepInterval,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes,
		ImagePrefix:    cfg.Storage.Prefix,
	})

	logger.With(logger.Fields{
		"classifier":  deps.Classifier.Name(),
		"explainer":   deps.Explainer.Name(),
		"storage":     cfg.Storage.Enabled,
		"qdrant":      cfg.Qdrant.Enabled,
		"db_driver":   cfg.Database.Driver,
		"max_workers": cfg.Analysis.Workers,
	}).Info(ctx, "Analysis service assembled")
	return a, nil
}

// Close releases backend connections in reverse order of creation.
// The service itself is stopped separately with Service.Close.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
