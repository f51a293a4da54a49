// Package cohere implements embedding.Client against the Cohere v2 embed
// REST endpoint, which embeds images and texts into the same space.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"

	errorsx "github.com/instill-ai/x/errors"
)

const (
	// DefaultModel is the multimodal Cohere embedding model.
	DefaultModel = "embed-v4.0"
	// DefaultBaseURL is the public Cohere API.
	DefaultBaseURL = "https://api.cohere.com"

	embedPath = "/v2/embed"
	// maxErrorBody bounds how much of an error reply ends up in logs.
	maxErrorBody = 2048
)

// Config holds the Cohere client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client implements embedding.Client for Cohere.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

var _ embedding.Client = (*Client)(nil)

// NewClient creates a new Cohere embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		err := errorsx.ErrInvalidArgument
		return nil, errorsx.AddMessage(err, "Embedding provider configuration is missing. Please contact your administrator.")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
	}, nil
}

// Name returns the client name
func (c *Client) Name() string {
	return "cohere"
}

type embedRequest struct {
	Model           string   `json:"model"`
	InputType       string   `json:"input_type"`
	EmbeddingTypes  []string `json:"embedding_types"`
	OutputDimension int      `json:"output_dimension,omitempty"`
	Images          []string `json:"images,omitempty"`
	Texts           []string `json:"texts,omitempty"`
}

// Embed implements embedding.Client.
func (c *Client) Embed(ctx context.Context, req embedding.Request) (*embedding.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errorsx.ErrInvalidArgument, err)
	}

	body := embedRequest{
		Model:           c.model,
		InputType:       string(req.InputType),
		EmbeddingTypes:  []string{"float"},
		OutputDimension: req.OutputDimension,
		Texts:           req.Texts,
	}
	for _, img := range req.Images {
		body.Images = append(body.Images, embedding.DataURI(img, "image/png"))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling cohere embed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = string(respBody[:min(len(respBody), maxErrorBody)])
		}
		return nil, fmt.Errorf("cohere embed returned %d: %s", resp.StatusCode, msg)
	}

	embeddings, err := embedding.ParseEmbeddings(respBody)
	if err != nil {
		return nil, fmt.Errorf("parsing embed response: %w", err)
	}

	return &embedding.Response{Embeddings: embeddings, Model: c.model}, nil
}
