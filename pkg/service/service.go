// Package service holds the ingestion use cases: it stages uploaded files,
// turns them into workflow inputs and hands them to the workflow gateway.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/object"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"

	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
)

// Gateway starts workflows and reads their state.
type Gateway interface {
	Start(ctx context.Context, kind wfparam.Kind, input wfparam.Input) (*wfparam.WorkflowHandle, error)
	GetStatus(ctx context.Context, workflowID string) (*wfparam.WorkflowStatus, error)
	Search(ctx context.Context, input wfparam.SearchInput) (*wfparam.SearchWorkflowResult, error)
	Health(ctx context.Context) error
}

// UploadFile is a file received from a client.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service defines the vision RAG use cases.
type Service interface {
	EmbedImage(ctx context.Context, file UploadFile, tenant wfparam.Tenant) (*wfparam.WorkflowHandle, error)
	EmbedPDF(ctx context.Context, file UploadFile, tenant wfparam.Tenant) (*PDFHandle, error)
	Search(ctx context.Context, input wfparam.SearchInput) (*wfparam.SearchWorkflowResult, error)
	DeleteVectors(ctx context.Context, input wfparam.DeleteVectorsInput) (*wfparam.WorkflowHandle, error)
	Status(ctx context.Context, workflowID string) (*wfparam.WorkflowStatus, error)
	Health(ctx context.Context) *HealthReport
	Stats(ctx context.Context, namespace string) (*vectorstore.Stats, error)
}

type service struct {
	gateway        Gateway
	stage          object.Stage
	store          vectorstore.Store
	embedder       embedding.Client
	maxQueryTokens int
	maxPDFPages    int
	countTokens    func(string) int
	log            *zap.Logger
}

// Option customizes the service.
type Option func(*service)

// WithMaxQueryTokens rejects search queries longer than n tokens. Zero
// removes the bound.
func WithMaxQueryTokens(n int) Option {
	return func(s *service) { s.maxQueryTokens = n }
}

// WithMaxPDFPages rejects PDF documents with more than n pages. Zero keeps
// the pdfpage default.
func WithMaxPDFPages(n int) Option {
	return func(s *service) { s.maxPDFPages = n }
}

// WithEmbedder adds the embedding provider to the health report.
func WithEmbedder(c embedding.Client) Option {
	return func(s *service) { s.embedder = c }
}

// NewService initiates a service instance. The vector store is only used for
// health reporting and statistics and may be nil.
func NewService(gw Gateway, stage object.Stage, store vectorstore.Store, log *zap.Logger, opts ...Option) Service {
	s := &service{
		gateway:     gw,
		stage:       stage,
		store:       store,
		countTokens: EstimateTokenCount,
		log:         log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
