// Package embedding defines the provider-neutral contract for turning images
// and texts into fixed-length vectors. Provider responses come in two wire
// shapes (a flat list of vectors, or vectors keyed by numeric type); both are
// parsed once into Embeddings at the adapter boundary.
package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// InputType tells the provider how the input will be used.
type InputType string

const (
	// InputTypeImage embeds images for storage.
	InputTypeImage InputType = "image"
	// InputTypeSearchQuery embeds a text query used to search stored vectors.
	InputTypeSearchQuery InputType = "search_query"
	// InputTypeSearchDocument embeds texts for storage.
	InputTypeSearchDocument InputType = "search_document"
)

// DefaultDimension is the vector length used across the index.
const DefaultDimension = 1536

// Request asks for one vector per image or per text. Exactly one of Images
// and Texts should be set. Images are base64 payloads, optionally wrapped in
// a data URI.
type Request struct {
	Images          []string
	Texts           []string
	InputType       InputType
	OutputDimension int
}

// Validate checks the request shape before any network call.
func (r Request) Validate() error {
	switch {
	case len(r.Images) == 0 && len(r.Texts) == 0:
		return fmt.Errorf("embedding request has no input")
	case len(r.Images) > 0 && len(r.Texts) > 0:
		return fmt.Errorf("embedding request mixes images and texts")
	case r.OutputDimension < 0:
		return fmt.Errorf("invalid output dimension %d", r.OutputDimension)
	}
	return nil
}

// Embeddings is the tagged union of the two response shapes. At most one of
// Flat and ByType is set.
type Embeddings struct {
	Flat   [][]float32
	ByType *TypedEmbeddings
}

// TypedEmbeddings holds vectors keyed by numeric type.
type TypedEmbeddings struct {
	Float [][]float32
}

// Vectors normalizes both shapes into a plain list of vectors.
func (e Embeddings) Vectors() [][]float32 {
	if e.ByType != nil {
		return e.ByType.Float
	}
	return e.Flat
}

// First returns the first vector, or false when the provider returned none.
// A returned vector may still be empty; callers validate its shape.
func (e Embeddings) First() ([]float32, bool) {
	vs := e.Vectors()
	if len(vs) == 0 || vs[0] == nil {
		return nil, false
	}
	return vs[0], true
}

// Response is a provider reply.
type Response struct {
	Embeddings Embeddings
	Model      string
}

// Client wraps a remote embedding call. Implementations hold configuration
// only and are safe for concurrent use.
type Client interface {
	Embed(ctx context.Context, req Request) (*Response, error)
	// Name identifies the provider in logs.
	Name() string
}

// healthCheckText is embedded by Health to check the provider round trip.
const healthCheckText = "test"

// Health embeds a short search query and checks a vector comes back. It
// reaches the provider, so callers bound it with a context deadline.
func Health(ctx context.Context, c Client) error {
	resp, err := c.Embed(ctx, Request{
		Texts:     []string{healthCheckText},
		InputType: InputTypeSearchQuery,
	})
	if err != nil {
		return fmt.Errorf("%s embedding health check: %w", c.Name(), err)
	}
	if v, ok := resp.Embeddings.First(); !ok || len(v) == 0 {
		return fmt.Errorf("%s embedding health check returned no vector", c.Name())
	}
	return nil
}

// ParseEmbeddings reads the "embeddings" member of a provider JSON body in
// either of its shapes: `[[...]]` or `{"float": [[...]]}`.
func ParseEmbeddings(body []byte) (Embeddings, error) {
	if !gjson.ValidBytes(body) {
		return Embeddings{}, fmt.Errorf("response is not valid JSON")
	}

	node := gjson.GetBytes(body, "embeddings")
	switch {
	case !node.Exists() || node.Type == gjson.Null:
		return Embeddings{}, nil
	case node.IsArray():
		flat, err := parseMatrix(node)
		if err != nil {
			return Embeddings{}, err
		}
		return Embeddings{Flat: flat}, nil
	case node.IsObject():
		floats := node.Get("float")
		if !floats.Exists() || floats.Type == gjson.Null {
			return Embeddings{ByType: &TypedEmbeddings{}}, nil
		}
		if !floats.IsArray() {
			return Embeddings{}, fmt.Errorf("embeddings.float is not an array")
		}
		m, err := parseMatrix(floats)
		if err != nil {
			return Embeddings{}, err
		}
		return Embeddings{ByType: &TypedEmbeddings{Float: m}}, nil
	}
	return Embeddings{}, fmt.Errorf("unexpected embeddings shape: %s", node.Type)
}

func parseMatrix(node gjson.Result) ([][]float32, error) {
	rows := node.Array()
	m := make([][]float32, len(rows))
	for i, row := range rows {
		if !row.IsArray() {
			return nil, fmt.Errorf("embedding %d is not an array", i)
		}
		vals := row.Array()
		v := make([]float32, len(vals))
		for j, val := range vals {
			if val.Type != gjson.Number {
				return nil, fmt.Errorf("embedding %d element %d is not a number", i, j)
			}
			v[j] = float32(val.Float())
		}
		m[i] = v
	}
	return m, nil
}

// DataURI wraps a raw base64 payload into a data URI. Payloads that already
// are data URIs are returned unchanged.
func DataURI(payload, mimeType string) string {
	if strings.HasPrefix(payload, "data:") {
		return payload
	}
	return "data:" + mimeType + ";base64," + payload
}

// DecodeImage returns the MIME type and bytes of a base64 image payload,
// accepting both data URIs and raw base64. fallbackMIME applies to raw
// payloads.
func DecodeImage(payload, fallbackMIME string) (string, []byte, error) {
	mimeType := fallbackMIME
	data := payload
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, encoded, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return "", nil, fmt.Errorf("malformed data URI")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		data = encoded
	}

	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("decoding base64 image: %w", err)
	}
	return mimeType, b, nil
}
