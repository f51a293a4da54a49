package config

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/redis/go-redis/v9"

	"github.com/instill-ai/x/temporal"

	miniox "github.com/instill-ai/x/minio"
)

// Config - Global variable to export
var Config AppConfig

// AppConfig defines
type AppConfig struct {
	Server        ServerConfig          `koanf:"server"`
	Temporal      temporal.ClientConfig `koanf:"temporal"`
	Worker        WorkerConfig          `koanf:"worker"`
	Gateway       GatewayConfig         `koanf:"gateway"`
	Cache         CacheConfig           `koanf:"cache"`
	OTELCollector OTELCollectorConfig   `koanf:"otelcollector"`
	Embedding     EmbeddingConfig       `koanf:"embedding"`
	VectorStore   VectorStoreConfig     `koanf:"vectorstore"`
	Milvus        MilvusConfig          `koanf:"milvus"`
	ObjectStage   ObjectStageConfig     `koanf:"objectstage"`
	Minio         miniox.Config         `koanf:"minio"`
	GCS           GCSConfig             `koanf:"gcs"`
	Search        SearchConfig          `koanf:"search"`
	PDF           PDFConfig             `koanf:"pdf"`
}

// ServerConfig defines the process-wide switches
type ServerConfig struct {
	Debug   bool   `koanf:"debug"`
	Edition string `koanf:"edition"`
}

// WorkerConfig defines the Temporal worker settings
type WorkerConfig struct {
	TaskQueue                   string `koanf:"taskqueue" validate:"required"`
	MaxConcurrentActivities     int    `koanf:"maxconcurrentactivities" validate:"min=0"`
	MaxConcurrentWorkflowTasks  int    `koanf:"maxconcurrentworkflowtasks" validate:"min=0"`
	GracefulShutdownWaitSeconds int    `koanf:"gracefulshutdownwaitseconds" validate:"min=0"`
}

// GatewayConfig defines how workflows are started by the API-facing client
type GatewayConfig struct {
	// DedupWindow is how long an identical start request maps to the first
	// workflow. Zero disables deduplication.
	DedupWindow time.Duration `koanf:"dedupwindow"`
}

// OTELCollectorConfig related to OTEL collector
type OTELCollectorConfig struct {
	Enable bool   `koanf:"enable"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
}

// CacheConfig related to Redis
type CacheConfig struct {
	Redis struct {
		RedisOptions redis.Options `koanf:"redisoptions"`
	}
}

// EmbeddingConfig selects and configures the embedding provider
type EmbeddingConfig struct {
	Provider  string       `koanf:"provider" validate:"oneof=cohere openai gemini"`
	Dimension int          `koanf:"dimension" validate:"min=1"`
	Cohere    CohereConfig `koanf:"cohere"`
	OpenAI    OpenAIConfig `koanf:"openai"`
	Gemini    GeminiConfig `koanf:"gemini"`
}

// CohereConfig defines the configuration for the Cohere embed API
type CohereConfig struct {
	APIKey  string        `koanf:"apikey"`
	Model   string        `koanf:"model"`
	BaseURL string        `koanf:"baseurl" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout"`
}

// OpenAIConfig defines the configuration for OpenAI
type OpenAIConfig struct {
	APIKey string `koanf:"apikey"`
	Model  string `koanf:"model"`
}

// GeminiConfig defines the configuration for Gemini AI
type GeminiConfig struct {
	APIKey string `koanf:"apikey"`
	Model  string `koanf:"model"`
}

// VectorStoreConfig selects the vector index backend
type VectorStoreConfig struct {
	Provider  string `koanf:"provider" validate:"oneof=milvus memory"`
	IndexName string `koanf:"indexname" validate:"required"`
}

// MilvusConfig is the milvus configuration.
type MilvusConfig struct {
	Host string `koanf:"host"`
	Port string `koanf:"port"`
}

// ObjectStageConfig selects where uploaded images and pages are staged
type ObjectStageConfig struct {
	Provider string `koanf:"provider" validate:"oneof=gcs minio"`
}

// GCSConfig defines the configuration for Google Cloud Storage
type GCSConfig struct {
	ProjectID string `koanf:"projectid"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	SAKey     string `koanf:"sakey"` // JSON string of service account key
}

// SearchConfig bounds the search requests accepted by the ingest service
type SearchConfig struct {
	MaxQueryTokens int `koanf:"maxquerytokens" validate:"min=0"`
}

// PDFConfig bounds the PDF documents accepted for embedding
type PDFConfig struct {
	MaxPages int `koanf:"maxpages" validate:"min=0"`
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(map[string]any{
		"worker.taskqueue":                   "vision-rag-queue",
		"worker.gracefulshutdownwaitseconds": 15,
		"embedding.provider":                 "cohere",
		"embedding.dimension":                1536,
		"embedding.cohere.model":             "embed-v4.0",
		"embedding.cohere.baseurl":           "https://api.cohere.com",
		"embedding.cohere.timeout":           "60s",
		"embedding.openai.model":             "text-embedding-3-small",
		"embedding.gemini.model":             "gemini-embedding-001",
		"vectorstore.provider":               "milvus",
		"vectorstore.indexname":              "vision_rag",
		"objectstage.provider":               "gcs",
		"search.maxquerytokens":              512,
		"pdf.maxpages":                       500,
	}, "."), nil); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(file.Provider(filePath), parser); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	if err := k.Unmarshal("", &Config); err != nil {
		return err
	}

	return ValidateConfig(&Config)
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
