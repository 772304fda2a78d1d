// Package app wires configuration into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/cache"
	"github.com/franckalain/glowscan/internal/config"
	"github.com/franckalain/glowscan/internal/database"
	"github.com/franckalain/glowscan/internal/imaging"
	"github.com/franckalain/glowscan/internal/knowledge"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/ml"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/narrative"
	"github.com/franckalain/glowscan/internal/pipeline"
	"github.com/franckalain/glowscan/internal/quota"
	"github.com/franckalain/glowscan/internal/records"
	"github.com/franckalain/glowscan/internal/routine"
	"github.com/franckalain/glowscan/internal/server"
	"github.com/franckalain/glowscan/internal/vision"
)

const drainTimeout = 15 * time.Second

// App owns every long-lived component of the service.
type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      database.Store
	vectors    *database.SQLiteDB // nil when no vector index is available
	suite      *ml.Suite
	records    *records.Store // nil when no record database is configured
	background *pipeline.Background
	janitor    *pipeline.Janitor
	server     *server.Server
}

// MLConfig extracts the model settings from cfg.
func MLConfig(cfg *config.Config) ml.Config {
	return ml.Config{
		Type:            cfg.ML.Type,
		ProjectID:       cfg.ML.ProjectID,
		Location:        cfg.ML.Location,
		CredentialsFile: cfg.ML.CredentialsFile,
		VisionModel:     cfg.ML.VisionModel,
		TextModel:       cfg.ML.TextModel,
		EmbeddingModel:  cfg.ML.EmbeddingModel,
		GenAIAPIKey:     cfg.ML.GenAIAPIKey,
	}
}

// New builds the service from cfg. Close must be called on the result.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	a.suite, err = ml.NewSuite(ctx, MLConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize models: %w", err)
	}

	if cfg.Records.DatabaseURL != "" {
		a.records, err = records.Open(ctx, cfg.Records.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to record database: %w", err)
		}
	} else {
		log.Warn("no record database configured; usage recording and routines are disabled")
	}

	m := metrics.New()
	authn := auth.New(cfg.Auth.WorkerSecret, cfg.Auth.JWTSecret, time.Now)
	if !authn.Configured() {
		log.Warn("no authentication strategy configured; gateway calls will be refused")
	}

	var index database.VectorIndex
	if a.vectors != nil {
		index = a.vectors
	}

	a.background = pipeline.NewBackground(cfg.Background.Timeout, m, log)
	a.janitor = pipeline.NewJanitor(a.store, cfg.Store.PurgeInterval, m, log)
	hub := server.NewHub(authn, cfg.Server.CORSOrigin, log)

	deps := pipeline.Deps{
		Quota:      quota.NewArbiter(a.store, cfg.Quota.DailyLimit, cfg.Quota.CounterTTL, time.Now, log),
		Normalizer: imaging.NewNormalizer(nil, cfg.Fetch.MaxBytes, log),
		Vision:     vision.NewAgent(a.suite.Model, time.Now, log),
		Knowledge:  knowledge.NewAgent(a.suite.Embedder, index, cfg.Knowledge.TopK, log),
		Narrative:  narrative.NewGenerator(a.suite.Model, log),
		Notifier:   hub,
		Background: a.background,
		Metrics:    m,
	}
	if cfg.Cache.Enabled {
		deps.Cache = cache.NewResultCache(a.store, cfg.Cache.TTL, log)
	}

	serverDeps := server.Deps{Auth: authn, Progress: hub, Metrics: m}
	if a.records != nil {
		deps.Usage = a.records
		serverDeps.Routines = routine.NewGenerator(a.records, a.suite.Model, log)
	}
	serverDeps.Analyzer = pipeline.NewAnalyzer(deps, log)
	a.server = server.New(serverDeps, cfg.Server.CORSOrigin, log)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "sqlite":
		db, err := database.NewSQLiteDB(a.cfg.Store.SQLitePath, a.log)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.store, a.vectors = db, db
	case "dynamodb":
		store, err := database.NewDynamoStore(ctx, a.cfg.Store.DynamoDBTable, a.log)
		if err != nil {
			return err
		}
		a.store = store
		// A seeded SQLite file may ship alongside the function as a
		// read-mostly vector index.
		if path := a.cfg.Store.SQLitePath; path != "" {
			if _, err := os.Stat(path); err == nil {
				if a.vectors, err = database.NewSQLiteDB(path, a.log); err != nil {
					return fmt.Errorf("failed to open vector index: %w", err)
				}
			}
		}
	default:
		return fmt.Errorf("%w: unsupported store driver %q", models.ErrMisconfigured, a.cfg.Store.Driver)
	}
	return nil
}

// Run serves HTTP and sweeps the store until ctx is cancelled, then drains
// background work.
func (a *App) Run(ctx context.Context) error {
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.janitor.Run(janitorCtx)

	serveErr := a.server.Start(ctx, a.cfg.Server.Port)
	stopJanitor()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.background.Drain(drainCtx); err != nil {
		a.log.Warn("background tasks still running at exit", zap.Error(err))
	}
	return serveErr
}

// LambdaHandler returns the API Gateway entrypoint. Background work is
// drained before each invocation returns.
func (a *App) LambdaHandler() func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return server.LambdaHandler(a.server.Handler(), func(ctx context.Context) error {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Background.Timeout+time.Second)
		defer cancel()
		return a.background.Drain(drainCtx)
	}, a.log)
}

// Close releases every resource. It is safe on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.suite != nil {
		errs = append(errs, a.suite.Close())
	}
	if a.records != nil {
		errs = append(errs, a.records.Close())
	}
	if a.vectors != nil && database.Store(a.vectors) != a.store {
		errs = append(errs, a.vectors.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
