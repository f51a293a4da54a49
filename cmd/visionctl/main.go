// visionctl stages files and drives the vision RAG workflows from the command
// line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/instill-ai/vision-rag-backend/config"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/cohere"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/gemini"
	"github.com/instill-ai/vision-rag-backend/pkg/embedding/openai"
	"github.com/instill-ai/vision-rag-backend/pkg/gateway"
	"github.com/instill-ai/vision-rag-backend/pkg/logger"
	"github.com/instill-ai/vision-rag-backend/pkg/object"
	"github.com/instill-ai/vision-rag-backend/pkg/service"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore/memory"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore/milvus"
	"github.com/instill-ai/x/temporal"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	miniox "github.com/instill-ai/x/minio"
)

var (
	// These variables might be overridden at buildtime.
	serviceName    = "visionctl"
	serviceVersion = "dev"
)

const usage = `Usage: visionctl [-file config.yaml] <command> [flags] [args]

Commands:
  embed-image -namespace NS -user ID -org ID FILE   stage an image and embed it
  embed-pdf   -namespace NS -user ID -org ID FILE   stage every page of a PDF and embed them
  search      -namespace NS -user ID -org ID [-topk N] QUERY
  delete      -namespace NS -user ID -org ID VECTOR_ID...
  status      WORKFLOW_ID
  stats       [-namespace NS]                       count the indexed vectors
  health
`

type command func(ctx context.Context, svc service.Service, args []string) (any, error)

var commands = map[string]command{
	"embed-image": embedImage,
	"embed-pdf":   embedPDF,
	"search":      search,
	"delete":      deleteVectors,
	"status":      status,
	"stats":       stats,
	"health":      health,
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", "config/config.yaml", "configuration file")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		fs.Usage()
		os.Exit(2)
	}

	if err := config.Init(*configPath); err != nil {
		log.Fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = zapLogger.Sync()
	}()

	svc, closeClients := newService(ctx, zapLogger, args[0])
	defer closeClients()

	out, err := run(ctx, svc, args[1:])
	if err != nil {
		zapLogger.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintln(os.Stderr, errdomain.Message(err))
		closeClients()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		zapLogger.Fatal("Couldn't write output", zap.Error(err))
	}
}

// newService wires the gateway, the object stage, the vector store and the
// embedding client. The stage is only built for commands that upload files,
// the store and the embedder only for the commands reading them.
func newService(ctx context.Context, logger *zap.Logger, cmd string) (service.Service, func()) {
	closeFuncs := map[string]func() error{}

	temporalClientOptions, err := temporal.ClientOptions(config.Config.Temporal, logger)
	if err != nil {
		logger.Fatal("Unable to build Temporal client options", zap.Error(err))
	}
	temporalClient, err := temporalclient.Dial(temporalClientOptions)
	if err != nil {
		logger.Fatal("Unable to create Temporal client", zap.Error(err))
	}
	closeFuncs["temporal"] = func() error {
		temporalClient.Close()
		return nil
	}

	opts := []gateway.Option{gateway.WithTaskQueue(config.Config.Worker.TaskQueue)}
	if config.Config.Gateway.DedupWindow > 0 {
		redisClient := redis.NewClient(&config.Config.Cache.Redis.RedisOptions)
		closeFuncs["redis"] = redisClient.Close
		opts = append(opts, gateway.WithDedup(redisClient, config.Config.Gateway.DedupWindow))
	}
	gw := gateway.New(temporalClient, logger, opts...)

	var stage object.Stage
	if strings.HasPrefix(cmd, "embed-") {
		stage, err = newStage(ctx, logger)
		if err != nil {
			logger.Fatal("Failed to create object stage", zap.Error(err))
		}
		closeFuncs["stage"] = stage.Close
	}

	var store vectorstore.Store
	if cmd == "health" || cmd == "stats" {
		store, err = newVectorStore(ctx, logger)
		if err != nil {
			logger.Fatal("Failed to create vector store", zap.Error(err))
		}
		closeFuncs["vectorstore"] = store.Close
	}

	svcOpts := []service.Option{
		service.WithMaxQueryTokens(config.Config.Search.MaxQueryTokens),
		service.WithMaxPDFPages(config.Config.PDF.MaxPages),
	}
	if cmd == "health" {
		embedder, err := newEmbedder(ctx)
		if err != nil {
			logger.Fatal("Failed to initialize embedding client", zap.Error(err))
		}
		svcOpts = append(svcOpts, service.WithEmbedder(embedder))
	}

	svc := service.NewService(gw, stage, store, logger, svcOpts...)

	closed := false
	closer := func() {
		if closed {
			return
		}
		closed = true
		for conn, fn := range closeFuncs {
			if err := fn(); err != nil {
				logger.Error("Failed to close conn", zap.Error(err), zap.String("conn", conn))
			}
		}
	}
	return svc, closer
}

func newStage(ctx context.Context, logger *zap.Logger) (object.Stage, error) {
	cfg := config.Config
	switch cfg.ObjectStage.Provider {
	case "minio":
		return object.NewMinIOStage(ctx, miniox.ClientParams{
			Config: cfg.Minio,
			Logger: logger,
			AppInfo: miniox.AppInfo{
				Name:    serviceName,
				Version: serviceVersion,
			},
		})
	default:
		return object.NewGCSStage(ctx, object.GCSConfig{
			ProjectID:         cfg.GCS.ProjectID,
			Region:            cfg.GCS.Region,
			Bucket:            cfg.GCS.Bucket,
			ServiceAccountKey: strings.TrimSpace(cfg.GCS.SAKey),
		}, logger)
	}
}

func newVectorStore(ctx context.Context, logger *zap.Logger) (vectorstore.Store, error) {
	cfg := config.Config
	if cfg.VectorStore.Provider == "memory" {
		return memory.New(), nil
	}
	return milvus.NewStore(ctx, milvus.Config{
		Host:       cfg.Milvus.Host,
		Port:       cfg.Milvus.Port,
		Collection: cfg.VectorStore.IndexName,
		Dimension:  cfg.Embedding.Dimension,
	}, logger)
}

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

func tenantFlags(fs *flag.FlagSet) *wfparam.Tenant {
	t := new(wfparam.Tenant)
	fs.StringVar(&t.Namespace, "namespace", "", "tenant namespace")
	fs.StringVar(&t.UserID, "user", "", "user ID")
	fs.StringVar(&t.OrgID, "org", "", "organization ID")
	return t
}

func readUpload(path string) (service.UploadFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.UploadFile{}, err
	}
	return service.UploadFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func embedImage(ctx context.Context, svc service.Service, args []string) (any, error) {
	fs := flag.NewFlagSet("embed-image", flag.ExitOnError)
	tenant := tenantFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: expected one image file", errdomain.ErrInvalidArgument)
	}

	file, err := readUpload(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	return svc.EmbedImage(ctx, file, *tenant)
}

func embedPDF(ctx context.Context, svc service.Service, args []string) (any, error) {
	fs := flag.NewFlagSet("embed-pdf", flag.ExitOnError)
	tenant := tenantFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: expected one PDF file", errdomain.ErrInvalidArgument)
	}

	file, err := readUpload(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	return svc.EmbedPDF(ctx, file, *tenant)
}

func search(ctx context.Context, svc service.Service, args []string) (any, error) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	tenant := tenantFlags(fs)
	topK := fs.Int("topk", wfparam.DefaultTopK, "number of results")
	_ = fs.Parse(args)

	return svc.Search(ctx, wfparam.SearchInput{
		Query:     strings.Join(fs.Args(), " "),
		Namespace: tenant.Namespace,
		UserID:    tenant.UserID,
		OrgID:     tenant.OrgID,
		TopK:      *topK,
	})
}

func deleteVectors(ctx context.Context, svc service.Service, args []string) (any, error) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	tenant := tenantFlags(fs)
	_ = fs.Parse(args)

	return svc.DeleteVectors(ctx, wfparam.DeleteVectorsInput{
		IDs:       fs.Args(),
		Namespace: tenant.Namespace,
		UserID:    tenant.UserID,
		OrgID:     tenant.OrgID,
	})
}

func status(ctx context.Context, svc service.Service, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: expected one workflow ID", errdomain.ErrInvalidArgument)
	}
	return svc.Status(ctx, args[0])
}

func stats(ctx context.Context, svc service.Service, args []string) (any, error) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	namespace := fs.String("namespace", "", "tenant namespace, all namespaces when empty")
	_ = fs.Parse(args)

	return svc.Stats(ctx, *namespace)
}

func health(ctx context.Context, svc service.Service, _ []string) (any, error) {
	report := svc.Health(ctx)
	if !report.Healthy() {
		return report, errdomain.Newf(errdomain.KindConnection, "services degraded: %v", report.Services)
	}
	return report, nil
}
