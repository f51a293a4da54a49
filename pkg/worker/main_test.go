package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore/memory"
)

const testDimension = 4

var (
	testNow  = time.UnixMilli(1700000000000)
	testUUID = uuid.Must(uuid.FromString("0b8f7c1e-8a4e-4f3c-9a55-3c1d2b7e6f10"))
)

// fakeEmbedder answers from a per-payload table and counts calls per input.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls map[string]int

	// byInput maps an image payload or a text to its response. Inputs not
	// in the table get fallback.
	byInput  map[string]embedding.Embeddings
	fallback embedding.Embeddings
	err      error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		calls:    map[string]int{},
		byInput:  map[string]embedding.Embeddings{},
		fallback: flat(1, 0, 0, 0),
	}
}

// flat builds a single-vector response. flat() is an empty, non-nil vector.
func flat(values ...float32) embedding.Embeddings {
	v := make([]float32, len(values))
	copy(v, values)
	return embedding.Embeddings{Flat: [][]float32{v}}
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, req embedding.Request) (*embedding.Response, error) {
	input := ""
	switch {
	case len(req.Images) > 0:
		input = req.Images[0]
	case len(req.Texts) > 0:
		input = req.Texts[0]
	}

	f.mu.Lock()
	f.calls[input]++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.byInput[input]; ok {
		return &embedding.Response{Embeddings: e, Model: "fake-model"}, nil
	}
	return &embedding.Response{Embeddings: f.fallback, Model: "fake-model"}, nil
}

func (f *fakeEmbedder) callCount(input string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[input]
}

// failingStore wraps a memory store and fails the selected operations.
type failingStore struct {
	*memory.Store
	upsertErr, queryErr, deleteErr error
}

func (s *failingStore) Upsert(ctx context.Context, ns string, vs []vectorstore.Vector) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.Upsert(ctx, ns, vs)
}

func (s *failingStore) Query(ctx context.Context, ns string, q vectorstore.Query) ([]vectorstore.Match, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.Store.Query(ctx, ns, q)
}

func (s *failingStore) Delete(ctx context.Context, ns string, ids []string, f vectorstore.Filter) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.Store.Delete(ctx, ns, ids, f)
}

func newTestWorker(embedder embedding.Client, store vectorstore.Store) *Worker {
	w, err := New(Config{Embedder: embedder, Store: store, Dimension: testDimension}, zap.NewNop())
	if err != nil {
		panic(fmt.Sprintf("creating worker: %v", err))
	}
	w.now = func() time.Time { return testNow }
	w.newUUID = func() (uuid.UUID, error) { return testUUID, nil }
	return w
}

func tenantVector(id, ns, user, org string, values ...float32) vectorstore.Vector {
	return vectorstore.Vector{
		ID:     id,
		Values: values,
		Metadata: vectorstore.Metadata{
			Namespace: ns,
			UserID:    user,
			OrgID:     org,
			SourceURL: "gs://bucket/" + id + ".png",
			Type:      vectorstore.TypeImage,
			CreatedAt: testNow,
		},
	}
}
