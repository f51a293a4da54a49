package worker

import (
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/temporal"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
)

// TaskQueue is the Temporal task queue name for all workflows and activities.
const TaskQueue = temporal.TaskQueue

// Embedding workflows retry the provider and the index for longer than the
// search workflows, which sit on a caller's request path.
const (
	EmbedImageTimeout   = 2 * time.Minute
	EmbedPdfPageTimeout = 5 * time.Minute
	SearchTimeout       = 1 * time.Minute
	DeleteTimeout       = 1 * time.Minute
)

// Retry policy shared by every activity.
const (
	RetryInitialIntervalEmbed = 5 * time.Second
	RetryInitialIntervalQuery = 3 * time.Second
	RetryBackoffCoefficient   = 2.0
	RetryMaximumAttempts      = 3
)

// Config defines the configuration for the worker
type Config struct {
	Embedder embedding.Client
	Store    vectorstore.Store
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
}

// Worker implements the Temporal worker with all workflows and activities
type Worker struct {
	embedder  embedding.Client
	store     vectorstore.Store
	dimension int
	log       *zap.Logger

	// Overridable in tests. Activities only, never read from a workflow.
	now     func() time.Time
	newUUID func() (uuid.UUID, error)
}

// New creates a new worker instance
func New(config Config, log *zap.Logger) (*Worker, error) {
	w := &Worker{
		embedder:  config.Embedder,
		store:     config.Store,
		dimension: config.Dimension,
		log:       log,
		now:       time.Now,
		newUUID:   uuid.NewV4,
	}
	return w, nil
}
