package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	grpczap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/instill-ai/vision-rag-backend/config"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/cohere"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/gemini"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/openai"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore/memory"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore/milvus"
	"github.com/instill-ai/x/temporal"

	visionworker "github.com/instill-ai/vision-rag-backend/pkg/worker"
	logx "github.com/instill-ai/x/log"
	otelx "github.com/instill-ai/x/otel"
)

const gracefulShutdownTimeout = 10 * time.Minute // Maximum time for in-flight activities to complete

var (
	// These variables might be overridden at buildtime.
	serviceName    = "vision-rag-backend-worker"
	serviceVersion = "dev"
)

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup all OpenTelemetry components
	cleanup := otelx.SetupWithCleanup(ctx,
		otelx.WithServiceName(serviceName),
		otelx.WithServiceVersion(serviceVersion),
		otelx.WithHost(config.Config.OTELCollector.Host),
		otelx.WithPort(config.Config.OTELCollector.Port),
		otelx.WithCollectorEnable(config.Config.OTELCollector.Enable),
	)
	defer cleanup()

	logx.Debug = config.Config.Server.Debug
	logger, _ := logx.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	// Set gRPC logging based on debug mode
	if config.Config.Server.Debug {
		grpczap.ReplaceGrpcLoggerV2WithVerbosity(logger, 0) // All logs including transport layer
	} else {
		grpczap.ReplaceGrpcLoggerV2WithVerbosity(logger, 3) // Suppress transport layer logs (verbosity 3+)
	}

	temporalClient, store, closeClients := newClients(ctx, logger)
	defer closeClients()

	embedder, err := newEmbedder(ctx)
	if err != nil {
		logger.Fatal("Failed to initialize embedding client", zap.Error(err))
	}
	logger.Info("Embedding client initialized",
		zap.String("client", embedder.Name()),
		zap.Int("dimension", config.Config.Embedding.Dimension))

	cw, err := visionworker.New(visionworker.Config{
		Embedder:  embedder,
		Store:     store,
		Dimension: config.Config.Embedding.Dimension,
	}, logger)
	if err != nil {
		logger.Fatal("Unable to create worker", zap.Error(err))
	}

	w := worker.New(temporalClient, config.Config.Worker.TaskQueue, worker.Options{
		WorkflowPanicPolicy:                    worker.BlockWorkflow,
		WorkerStopTimeout:                      gracefulShutdownTimeout,
		MaxConcurrentActivityExecutionSize:     config.Config.Worker.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: config.Config.Worker.MaxConcurrentWorkflowTasks,
		Interceptors: func() []interceptor.WorkerInterceptor {
			if !config.Config.OTELCollector.Enable {
				return nil
			}
			workerInterceptor, err := opentelemetry.NewTracingInterceptor(opentelemetry.TracerOptions{
				Tracer:            otel.Tracer(serviceName),
				TextMapPropagator: otel.GetTextMapPropagator(),
			})
			if err != nil {
				logger.Fatal("Unable to create worker tracing interceptor", zap.Error(err))
			}
			return []interceptor.WorkerInterceptor{workerInterceptor}
		}(),
	})

	// Every workflow and activity is registered by name from the worker
	// registry, so the gateway and the worker agree on what exists.
	cw.Registry().Register(w)

	if err := w.Start(); err != nil {
		logger.Fatal(fmt.Sprintf("Unable to start worker: %s", err))
	}

	logger.Info("Temporal worker started successfully and is polling for tasks",
		zap.String("taskQueue", config.Config.Worker.TaskQueue))

	// Setup graceful shutdown on SIGTERM (kill) and SIGINT (Ctrl+C)
	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	<-quitSig

	logger.Info("Shutdown signal received, waiting for in-flight activities to complete...")
	time.Sleep(time.Duration(config.Config.Worker.GracefulShutdownWaitSeconds) * time.Second)

	logger.Info("Shutting down worker...")
	w.Stop()
}

// newClients initializes the Temporal client and the vector store and
// returns a cleanup function
func newClients(ctx context.Context, logger *zap.Logger) (temporalclient.Client, vectorstore.Store, func()) {
	closeFuncs := map[string]func() error{}

	temporalClientOptions, err := temporal.ClientOptions(config.Config.Temporal, logger)
	if err != nil {
		logger.Fatal("Unable to build Temporal client options", zap.Error(err))
	}

	// Add OpenTelemetry tracing interceptor if enabled
	if config.Config.OTELCollector.Enable {
		temporalTracingInterceptor, err := opentelemetry.NewTracingInterceptor(opentelemetry.TracerOptions{
			Tracer:            otel.Tracer(serviceName),
			TextMapPropagator: otel.GetTextMapPropagator(),
		})
		if err != nil {
			logger.Fatal("Unable to create temporal tracing interceptor", zap.Error(err))
		}
		temporalClientOptions.Interceptors = []interceptor.ClientInterceptor{temporalTracingInterceptor}
	}

	temporalClient, err := temporalclient.Dial(temporalClientOptions)
	if err != nil {
		logger.Fatal("Unable to create Temporal client", zap.Error(err))
	}
	closeFuncs["temporal"] = func() error {
		temporalClient.Close()
		return nil
	}

	store, err := newVectorStore(ctx, logger)
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	closeFuncs["vectorstore"] = store.Close

	closer := func() {
		for conn, fn := range closeFuncs {
			if err := fn(); err != nil {
				logger.Error("Failed to close conn", zap.Error(err), zap.String("conn", conn))
			}
		}
	}

	return temporalClient, store, closer
}

func newVectorStore(ctx context.Context, logger *zap.Logger) (vectorstore.Store, error) {
	cfg := config.Config
	switch cfg.VectorStore.Provider {
	case "memory":
		logger.Warn("Using the in-memory vector store, vectors won't survive a restart")
		return memory.New(), nil
	default:
		return milvus.NewStore(ctx, milvus.Config{
			Host:       cfg.Milvus.Host,
			Port:       cfg.Milvus.Port,
			Collection: cfg.VectorStore.IndexName,
			Dimension:  cfg.Embedding.Dimension,
		}, logger)
	}
}

// newEmbedder creates the embedding client of the configured provider
func newEmbedder(ctx context.Context) (embedding.Client, error) {
	cfg := config.Config.Embedding
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case "gemini":
		return gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	default:
		return cohere.NewClient(cohere.Config{
			APIKey:  cfg.Cohere.APIKey,
			Model:   cfg.Cohere.Model,
			BaseURL: cfg.Cohere.BaseURL,
			Timeout: cfg.Cohere.Timeout,
		})
	}
}
