// Package openai implements embedding.Client with the OpenAI embeddings API.
// OpenAI embedding models are text-only, so image requests are rejected.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	errorsx "github.com/instill-ai/x/errors"
)

// DefaultEmbeddingModel is the OpenAI model used when none is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Client implements embedding.Client for OpenAI
type Client struct {
	client         *openai.Client
	embeddingModel string
}

var _ embedding.Client = (*Client)(nil)

// NewClient creates a new OpenAI embedding client
func NewClient(apiKey, model string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		err := errorsx.ErrInvalidArgument
		return nil, errorsx.AddMessage(err, "Embedding provider configuration is missing. Please contact your administrator.")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}

	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &Client{
		client:         &client,
		embeddingModel: model,
	}, nil
}

// Name returns the client name
func (c *Client) Name() string {
	return "openai"
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, req embedding.Request) (*embedding.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errorsx.ErrInvalidArgument, err)
	}
	if len(req.Images) > 0 {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: openai embeddings do not accept images", errdomain.ErrUnsupportedInput),
			"Image embeddings are not supported by the configured provider.",
		)
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: req.Texts,
		},
		Model: c.embeddingModel,
	}
	if req.OutputDimension > 0 {
		params.Dimensions = openai.Int(int64(req.OutputDimension))
	}

	response, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}

	// Convert float64 to float32, keeping the input order.
	vectors := make([][]float32, len(response.Data))
	for _, d := range response.Data {
		if int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for j, val := range d.Embedding {
			v[j] = float32(val)
		}
		vectors[d.Index] = v
	}

	return &embedding.Response{
		Embeddings: embedding.Embeddings{Flat: vectors},
		Model:      response.Model,
	}, nil
}
