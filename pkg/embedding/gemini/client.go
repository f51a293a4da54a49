// Package gemini implements embedding.Client with the Gemini API. Texts are
// sent as text parts and images as inline byte parts; one EmbedContent call
// is issued per input since the API has no batch endpoint.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"

	errorsx "github.com/instill-ai/x/errors"
)

// DefaultEmbeddingModel is the Gemini model used when none is configured.
const DefaultEmbeddingModel = "gemini-embedding-001"

// Gemini task types
const (
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeRetrievalQuery    = "RETRIEVAL_QUERY"
)

// Client implements embedding.Client for Gemini
type Client struct {
	client *genai.Client
	model  string
}

var _ embedding.Client = (*Client)(nil)

// NewClient creates a new Gemini embedding client
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		err := errorsx.ErrInvalidArgument
		return nil, errorsx.AddMessage(err, "Embedding provider configuration is missing. Please contact your administrator.")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errorsx.AddMessage(
			fmt.Errorf("failed to create Gemini client: %w", err),
			"Unable to initialize the embedding provider. Please check your configuration.",
		)
	}

	return &Client{client: client, model: model}, nil
}

// Name returns the client name
func (c *Client) Name() string {
	return "gemini"
}

// TaskType maps an input type onto the Gemini retrieval task it serves.
func TaskType(t embedding.InputType) string {
	if t == embedding.InputTypeSearchQuery {
		return TaskTypeRetrievalQuery
	}
	return TaskTypeRetrievalDocument
}

// Contents builds one content per input.
func Contents(req embedding.Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.Images)+len(req.Texts))
	for i, img := range req.Images {
		mimeType, data, err := embedding.DecodeImage(img, "image/png")
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		contents = append(contents, genai.NewContentFromBytes(data, mimeType, genai.RoleUser))
	}
	for _, txt := range req.Texts {
		contents = append(contents, genai.NewContentFromText(txt, genai.RoleUser))
	}
	return contents, nil
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, req embedding.Request) (*embedding.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errorsx.ErrInvalidArgument, err)
	}

	contents, err := Contents(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorsx.ErrInvalidArgument, err)
	}

	cfg := &genai.EmbedContentConfig{TaskType: TaskType(req.InputType)}
	if req.OutputDimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(req.OutputDimension))
	}

	vectors := make([][]float32, 0, len(contents))
	for i, content := range contents {
		result, err := c.client.Models.EmbedContent(ctx, c.model, []*genai.Content{content}, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini API call failed for input %d: %w", i, err)
		}
		if len(result.Embeddings) == 0 {
			// Leave the slot empty so the caller sees a missing vector.
			vectors = append(vectors, nil)
			continue
		}
		vectors = append(vectors, result.Embeddings[0].Values)
	}

	return &embedding.Response{
		Embeddings: embedding.Embeddings{Flat: vectors},
		Model:      c.model,
	}, nil
}
