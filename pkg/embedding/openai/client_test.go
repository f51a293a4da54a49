package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"

	qt "github.com/frankban/quicktest"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
)

func TestClient_EmbedTexts(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.URL.Path, qt.Equals, "/v1/embeddings")

		var body map[string]any
		c.Assert(json.NewDecoder(r.Body).Decode(&body), qt.IsNil)
		c.Check(body["model"], qt.Equals, DefaultEmbeddingModel)
		c.Check(body["dimensions"], qt.Equals, float64(1536))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
			],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient("test-key", "", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	c.Assert(err, qt.IsNil)

	resp, err := client.Embed(context.Background(), embedding.Request{
		Texts:           []string{"cat", "dog"},
		InputType:       embedding.InputTypeSearchQuery,
		OutputDimension: 1536,
	})
	c.Assert(err, qt.IsNil)
	c.Check(resp.Model, qt.Equals, "text-embedding-3-small")
	c.Check(resp.Embeddings.Vectors(), qt.DeepEquals, [][]float32{{0.1, 0.2}, {0.3, 0.4}})
}

func TestClient_EmbedRejectsImages(t *testing.T) {
	c := qt.New(t)

	client, err := NewClient("test-key", "")
	c.Assert(err, qt.IsNil)

	_, err = client.Embed(context.Background(), embedding.Request{
		Images:    []string{"aGVsbG8="},
		InputType: embedding.InputTypeImage,
	})
	c.Check(errors.Is(err, errdomain.ErrUnsupportedInput), qt.IsTrue)
}
