package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duvallglobal/listapp-sub000/internal/analyses"
	"github.com/duvallglobal/listapp-sub000/internal/cache"
	"github.com/duvallglobal/listapp-sub000/internal/credits"
	"github.com/duvallglobal/listapp-sub000/internal/inference"
	geminiclient "github.com/duvallglobal/listapp-sub000/internal/inference/gemini"
	openaiclient "github.com/duvallglobal/listapp-sub000/internal/inference/openai"
	"github.com/duvallglobal/listapp-sub000/internal/marketplace"
	"github.com/duvallglobal/listapp-sub000/internal/queue"
	"github.com/duvallglobal/listapp-sub000/internal/shared/config"
	"github.com/duvallglobal/listapp-sub000/internal/shared/server"
	"github.com/duvallglobal/listapp-sub000/internal/shared/storage/db"
	"github.com/duvallglobal/listapp-sub000/internal/shared/storage/object"
	localstore "github.com/duvallglobal/listapp-sub000/internal/shared/storage/object/local"
	miniostore "github.com/duvallglobal/listapp-sub000/internal/shared/storage/object/minio"
	s3store "github.com/duvallglobal/listapp-sub000/internal/shared/storage/object/s3"
	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

// App holds shared dependencies wired by Build.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client
	Cache  cache.StatusCache
	Tiers  *tiers.Catalog

	AnalysesRepo    analyses.Repo
	AnalysesService *analyses.Service
	CreditsService  *credits.Service
	AnalysisHandler *analyses.Handler
	CreditsHandler  *credits.Handler

	// Processor lets callers override job processing for tests; defaults to
	// AnalysesService.
	Processor Processor
}

// Processor drives one job through the analysis pipeline.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	statusCache, err := buildCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := tiers.Load(cfg.TiersConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load tier catalog: %w", err)
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
		Cache:  statusCache,
		Tiers:  catalog,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		AnalysisHandler: app.AnalysisHandler,
		CreditsHandler:  app.CreditsHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory stores")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory stores: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		if strings.TrimSpace(cfg.MinioEndpoint) == "" || strings.TrimSpace(cfg.MinioBucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=minio requires MINIO_ENDPOINT and MINIO_BUCKET")
		}
		return miniostore.New(ctx, cfg.MinioEndpoint, cfg.MinioBucket, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("LA_SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func buildCache(ctx context.Context, cfg config.Config) (cache.StatusCache, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return cache.Noop{}, nil
	}
	redisCache, err := cache.NewFromURL(ctx, cfg.RedisURL, cfg.StatusCacheTTL)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: redis connect failed; status cache disabled: %v", err)
			return cache.Noop{}, nil
		}
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return redisCache, nil
}

func buildInference(cfg config.Config) (inference.Client, error) {
	switch cfg.InferenceProvider {
	case "openai":
		client, err := openaiclient.NewClient(os.Getenv("OPENAI_API_KEY"), cfg.InferenceModel)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: openai unavailable; using placeholder inference: %v", err)
				return inference.PlaceholderClient{}, nil
			}
			return nil, err
		}
		return client, nil
	case "placeholder":
		return inference.PlaceholderClient{}, nil
	default:
		client, err := geminiclient.NewClient(os.Getenv("GEMINI_API_KEY"), cfg.InferenceModel)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: gemini unavailable; using placeholder inference: %v", err)
				return inference.PlaceholderClient{}, nil
			}
			return nil, err
		}
		return client, nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	var analysisRepo analyses.Repo
	var creditsSvc *credits.Service
	if app.DB != nil {
		analysisRepo = &analyses.PGRepo{DB: app.DB}
		creditsSvc = credits.NewPostgresService(credits.NewPGStore(app.DB, app.Tiers), app.Tiers)
	} else {
		analysisRepo = analyses.NewMemoryRepo()
		creditsSvc = credits.NewService(app.Tiers)
	}
	creditsSvc.SetJobCounter(analysisRepo)

	inferenceClient, err := buildInference(app.Config)
	if err != nil {
		return err
	}

	analysisSvc := &analyses.Service{
		Repo:             analysisRepo,
		Credits:          creditsSvc,
		Store:            app.Store,
		Inference:        inferenceClient,
		JobQueue:         app.Queue,
		Cache:            app.Cache,
		Fees:             marketplace.DefaultFeeSchedule(),
		Provider:         app.Config.InferenceProvider,
		Model:            app.Config.InferenceModel,
		MaxArtifactBytes: app.Config.MaxArtifactBytes,
	}

	app.AnalysesRepo = analysisRepo
	app.AnalysesService = analysisSvc
	app.CreditsService = creditsSvc
	app.Processor = analysisSvc
	app.AnalysisHandler = analyses.NewHandler(analysisSvc)
	app.CreditsHandler = credits.NewHandler(creditsSvc)

	if app.AnalysisHandler == nil || app.CreditsHandler == nil {
		return errors.New("failed to initialize handlers")
	}

	return nil
}
