package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/di"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/handlers"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/config"
	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/idempotency"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/jobs"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/observability"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/secrets"
	platformstorage "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/storage"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	firestoreRepo "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = observability.Flush(baseLogger)
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	clientOpts := googleClientOptions(cfg)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	logger.Info("firestore client ready", zap.String("database", firestoreProvider.DatabaseID()))

	storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	uploader, err := platformstorage.NewUploader(storageClient, cfg.Storage.DocumentsBucket)
	if err != nil {
		logger.Fatal("failed to initialise document uploader", zap.Error(err))
	}
	urlOpts := []platformstorage.URLResolverOption{platformstorage.WithURLTTL(cfg.Storage.SignedURLTTL)}
	if cfg.Storage.SignerEmail != "" {
		signer, err := platformstorage.NewServiceAccountSigner(cfg.Storage.SignerEmail, cfg.Storage.SignerPrivateKey)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		urlOpts = append(urlOpts, platformstorage.WithSigner(signer))
	}
	fileURLs := platformstorage.NewURLResolver(storageClient, urlOpts...)

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	workflowTopic := pubsubClient.Topic(cfg.PubSub.WorkflowTopic)
	defer workflowTopic.Stop()
	publisher, err := jobs.NewPubSubWorkflowPublisher(workflowTopic)
	if err != nil {
		logger.Fatal("failed to initialise workflow publisher", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	healthRepo, err := newHealthRepository(firestoreClient, storageClient, cfg.Storage.DocumentsBucket, workflowTopic, fetcher)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Infrastructure{
		Uploader:  uploader,
		Files:     fileURLs,
		Claims:    firebaseVerifier,
		Publisher: publisher,
		Meter:     otel.GetMeterProvider().Meter("portal"),
		Build:     buildInfo,
		Logger:    observability.EventLogger(logger.Named("workflow")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	replayStore := idempotency.NewFirestoreStore(firestoreProvider, cfg.Idempotency.Collection)
	replayOpts := []idempotency.Option{
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	}
	if cfg.Idempotency.RequireKey {
		replayOpts = append(replayOpts, idempotency.WithRequiredKey())
	}
	replayGuard := idempotency.Guard(replayStore, replayOpts...)

	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	var purgeWG sync.WaitGroup
	if cfg.Idempotency.PurgeInterval > 0 {
		purgeWG.Add(1)
		go func() {
			defer purgeWG.Done()
			runReplayPurge(purgeCtx, logger.Named("idempotency"), replayStore, cfg.Idempotency)
		}()
	}

	portalHandlers := handlers.NewPortalHandlers(authenticator, svc.Portal, svc.Uploads,
		handlers.WithActivationRateLimit(cfg.Workflow.ActivationAttempts, cfg.Workflow.ActivationWindow, time.Now),
		handlers.WithMaxUploadBytes(cfg.Storage.MaxUploadBytes),
		handlers.WithReplayGuard(replayGuard),
	)
	evaluatorHandlers := handlers.NewEvaluatorHandlers(authenticator, svc.Evaluation,
		handlers.WithEvaluatorReplayGuard(replayGuard),
	)
	adminHandlers := handlers.NewAdminRequirementHandlers(authenticator, svc.Requirements)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPortalRoutes(portalHandlers.Routes),
		handlers.WithEvaluatorRoutes(evaluatorHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("nomination portal api listening", zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	purgeCancel()
	purgeWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("PORTAL_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("PORTAL_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Observability.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func newHealthRepository(client *firestore.Client, storageClient *cloudstorage.Client, bucket string, topic *pubsub.Topic, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := c.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if storageClient != nil && bucket != "" {
		b := storageClient.Bucket(bucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "documentStorage",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := b.Attrs(ctx)
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "workflowEvents",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", t.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://portal-healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.ResolveSecret(ctx, secretHealthReference)
				if err == nil || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func runReplayPurge(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Purge(runCtx, time.Now().UTC(), cfg.PurgeBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency purge error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency purge removed keys", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("PORTAL_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("PORTAL_FIREBASE_PROJECT_ID"))
	}
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := strings.TrimSpace(os.Getenv("PORTAL_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := strings.TrimSpace(os.Getenv("PORTAL_FIREBASE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
