package cohere

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	c := qt.New(t)

	_, err := NewClient(Config{})
	c.Check(err, qt.Not(qt.IsNil))
}

func TestClient_Embed(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		name       string
		req        embedding.Request
		status     int
		reply      string
		wantInput  string
		wantImages []string
		wantTexts  []string
		wantFirst  []float32
		wantErr    string
	}{
		{
			name:       "image with flat reply",
			req:        embedding.Request{Images: []string{"aGVsbG8="}, InputType: embedding.InputTypeImage, OutputDimension: 1536},
			status:     http.StatusOK,
			reply:      `{"embeddings":[[0.1,0.2,0.3]]}`,
			wantInput:  "image",
			wantImages: []string{"data:image/png;base64,aGVsbG8="},
			wantFirst:  []float32{0.1, 0.2, 0.3},
		},
		{
			name:      "text with typed reply",
			req:       embedding.Request{Texts: []string{"cat"}, InputType: embedding.InputTypeSearchQuery},
			status:    http.StatusOK,
			reply:     `{"id":"1","embeddings":{"float":[[0.5,0.5]]},"texts":["cat"]}`,
			wantInput: "search_query",
			wantTexts: []string{"cat"},
			wantFirst: []float32{0.5, 0.5},
		},
		{
			name:      "provider error",
			req:       embedding.Request{Texts: []string{"cat"}, InputType: embedding.InputTypeSearchQuery},
			status:    http.StatusTooManyRequests,
			reply:     `{"message":"rate limited"}`,
			wantInput: "search_query",
			wantTexts: []string{"cat"},
			wantErr:   "cohere embed returned 429: rate limited",
		},
	}

	for _, tc := range testCases {
		c.Run(tc.name, func(c *qt.C) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.Check(r.URL.Path, qt.Equals, "/v2/embed")
				c.Check(r.Header.Get("Authorization"), qt.Equals, "Bearer test-key")

				raw, err := io.ReadAll(r.Body)
				c.Assert(err, qt.IsNil)
				var got embedRequest
				c.Assert(json.Unmarshal(raw, &got), qt.IsNil)
				c.Check(got.Model, qt.Equals, DefaultModel)
				c.Check(got.InputType, qt.Equals, tc.wantInput)
				c.Check(got.EmbeddingTypes, qt.DeepEquals, []string{"float"})
				c.Check(got.Images, qt.DeepEquals, tc.wantImages)
				c.Check(got.Texts, qt.DeepEquals, tc.wantTexts)

				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.reply))
			}))
			defer srv.Close()

			client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
			c.Assert(err, qt.IsNil)

			resp, err := client.Embed(context.Background(), tc.req)
			if tc.wantErr != "" {
				c.Assert(err, qt.ErrorMatches, tc.wantErr)
				return
			}
			c.Assert(err, qt.IsNil)

			first, ok := resp.Embeddings.First()
			c.Assert(ok, qt.IsTrue)
			c.Check(first, qt.DeepEquals, tc.wantFirst)
		})
	}
}

func TestClient_EmbedRejectsEmptyRequest(t *testing.T) {
	c := qt.New(t)

	client, err := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	c.Assert(err, qt.IsNil)

	_, err = client.Embed(context.Background(), embedding.Request{InputType: embedding.InputTypeImage})
	c.Check(err, qt.ErrorMatches, ".*embedding request has no input")
}
