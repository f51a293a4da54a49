package milvus

import (
	"context"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// backend is the subset of the Milvus client the store relies on, with the
// per-call options fixed so tests can substitute it.
type backend interface {
	HasCollection(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema) error
	CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error
	HasPartition(ctx context.Context, collection, partition string) (bool, error)
	CreatePartition(ctx context.Context, collection, partition string) error
	LoadCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection, partition string, columns ...entity.Column) error
	Search(ctx context.Context, collection, partition, expr string, fields []string, vector entity.Vector, topK int, sp entity.SearchParam) ([]client.SearchResult, error)
	Query(ctx context.Context, collection, partition, expr string, fields []string) (client.ResultSet, error)
	Delete(ctx context.Context, collection, partition, expr string) error
	CollectionStatistics(ctx context.Context, collection string) (map[string]string, error)
	PartitionStatistics(ctx context.Context, collection, partition string) (map[string]string, error)
	CheckHealth(ctx context.Context) (bool, error)
	Close() error
}

type grpcBackend struct {
	c client.Client
}

func (g *grpcBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	return g.c.HasCollection(ctx, collection)
}

func (g *grpcBackend) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	return g.c.CreateCollection(ctx, schema, 1)
}

func (g *grpcBackend) CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error {
	return g.c.CreateIndex(ctx, collection, field, idx, false)
}

func (g *grpcBackend) HasPartition(ctx context.Context, collection, partition string) (bool, error) {
	return g.c.HasPartition(ctx, collection, partition)
}

func (g *grpcBackend) CreatePartition(ctx context.Context, collection, partition string) error {
	return g.c.CreatePartition(ctx, collection, partition)
}

func (g *grpcBackend) LoadCollection(ctx context.Context, collection string) error {
	return g.c.LoadCollection(ctx, collection, false)
}

func (g *grpcBackend) Upsert(ctx context.Context, collection, partition string, columns ...entity.Column) error {
	_, err := g.c.Upsert(ctx, collection, partition, columns...)
	return err
}

func (g *grpcBackend) Search(ctx context.Context, collection, partition, expr string, fields []string, vector entity.Vector, topK int, sp entity.SearchParam) ([]client.SearchResult, error) {
	return g.c.Search(ctx, collection, []string{partition}, expr, fields, []entity.Vector{vector}, fieldEmbedding, metricType, topK, sp)
}

func (g *grpcBackend) Query(ctx context.Context, collection, partition, expr string, fields []string) (client.ResultSet, error) {
	return g.c.Query(ctx, collection, []string{partition}, expr, fields)
}

func (g *grpcBackend) Delete(ctx context.Context, collection, partition, expr string) error {
	return g.c.Delete(ctx, collection, partition, expr)
}

func (g *grpcBackend) CollectionStatistics(ctx context.Context, collection string) (map[string]string, error) {
	return g.c.GetCollectionStatistics(ctx, collection)
}

func (g *grpcBackend) PartitionStatistics(ctx context.Context, collection, partition string) (map[string]string, error) {
	return g.c.GetPartitionStatistics(ctx, collection, partition)
}

func (g *grpcBackend) CheckHealth(ctx context.Context) (bool, error) {
	h, err := g.c.CheckHealth(ctx)
	if err != nil {
		return false, err
	}
	return h != nil && h.IsHealthy, nil
}

func (g *grpcBackend) Close() error {
	return g.c.Close()
}
