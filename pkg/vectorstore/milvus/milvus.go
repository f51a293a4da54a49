// Package milvus implements vectorstore.Store on top of a Milvus collection.
// The index name maps to a collection, a vector namespace maps to a partition
// and the tenant metadata lives in scalar fields that every search and delete
// expression filters on.
package milvus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"
)

const (
	metricType     = entity.COSINE
	scanNList      = 1024
	withRaw        = true
	searchClusters = 250
	reorderK       = 250
)

const (
	fieldID         = "id"
	fieldEmbedding  = "embedding"
	fieldNamespace  = "namespace"
	fieldUserID     = "user_id"
	fieldOrgID      = "org_id"
	fieldSourceURL  = "source_url"
	fieldType       = "type"
	fieldPageNumber = "page_number"
	fieldCreatedAt  = "created_at"
)

// statRowCount is the statistics key holding the number of entities.
const statRowCount = "row_count"

var outputFields = []string{
	fieldNamespace,
	fieldUserID,
	fieldOrgID,
	fieldSourceURL,
	fieldType,
	fieldPageNumber,
	fieldCreatedAt,
}

// Config holds the Milvus connection and collection settings.
type Config struct {
	Host       string
	Port       string
	Collection string
	Dimension  int
}

// Store is a Milvus-backed vectorstore.Store.
type Store struct {
	b          backend
	collection string
	dimension  int
	logger     *zap.Logger

	// Collection and partitions are created lazily. The mutex only guards
	// these creation markers.
	mu         sync.Mutex
	ready      bool
	partitions map[string]bool
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore dials Milvus and returns a store bound to one collection.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	c, err := client.NewGrpcClient(ctx, cfg.Host+":"+cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("connecting to Milvus: %w", err)
	}

	return newStore(&grpcBackend{c: c}, cfg, logger), nil
}

func newStore(b backend, cfg Config, logger *zap.Logger) *Store {
	collection := CollectionName(cfg.Collection)
	return &Store{
		b:          b,
		collection: collection,
		dimension:  cfg.Dimension,
		logger:     logger.With(zap.String("collection_name", collection)),
		partitions: map[string]bool{},
	}
}

// CollectionName turns an index name into a valid collection name. Milvus
// names can only contain numbers, letters and underscores.
func CollectionName(indexName string) string {
	var b strings.Builder
	for _, r := range indexName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "idx_" + name
	}
	return name
}

// PartitionName maps a namespace onto a partition. Namespaces are free-form
// so they are hashed; tenant isolation never relies on the partition alone.
func PartitionName(namespace string) string {
	sum := sha256.Sum256([]byte(namespace))
	return "ns_" + hex.EncodeToString(sum[:12])
}

// TenantExpr compiles a filter into a Milvus boolean expression.
func TenantExpr(f vectorstore.Filter) string {
	return fmt.Sprintf("%s == %s && %s == %s && %s == %s",
		fieldNamespace, strconv.Quote(f.Namespace),
		fieldUserID, strconv.Quote(f.UserID),
		fieldOrgID, strconv.Quote(f.OrgID),
	)
}

func idsExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ","))
}

func (s *Store) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	has, err := s.b.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "vision RAG embeddings",
			Fields: []*entity.Field{
				{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "255"}},
				{Name: fieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(s.dimension)}},
				{Name: fieldNamespace, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
				{Name: fieldUserID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
				{Name: fieldOrgID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
				{Name: fieldSourceURL, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "2048"}},
				{Name: fieldType, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
				{Name: fieldPageNumber, DataType: entity.FieldTypeInt64},
				{Name: fieldCreatedAt, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			},
		}

		if err := s.b.CreateCollection(ctx, schema); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}

		vectorIdx, err := entity.NewIndexSCANN(metricType, scanNList, withRaw)
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}

		for _, fi := range []struct {
			field string
			idx   entity.Index
		}{
			{fieldEmbedding, vectorIdx},
			{fieldUserID, entity.NewScalarIndexWithType(entity.Inverted)},
			{fieldOrgID, entity.NewScalarIndexWithType(entity.Inverted)},
		} {
			if err := s.b.CreateIndex(ctx, s.collection, fi.field, fi.idx); err != nil {
				return fmt.Errorf("creating index for field %s: %w", fi.field, err)
			}
		}

		s.logger.Info("Collection created successfully.", zap.Int("dimensionality", s.dimension))
	}

	s.ready = true
	return nil
}

func (s *Store) ensurePartition(ctx context.Context, namespace string) (string, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return "", err
	}

	partition := PartitionName(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitions[partition] {
		return partition, nil
	}

	has, err := s.b.HasPartition(ctx, s.collection, partition)
	if err != nil {
		return "", fmt.Errorf("checking partition existence: %w", err)
	}
	if !has {
		if err := s.b.CreatePartition(ctx, s.collection, partition); err != nil {
			return "", fmt.Errorf("creating partition: %w", err)
		}
		s.logger.Info("Partition created.", zap.String("namespace", namespace), zap.String("partition", partition))
	}

	s.partitions[partition] = true
	return partition, nil
}

// lookupPartition returns the partition of a namespace without creating it.
// ok is false when nothing was ever stored in the namespace.
func (s *Store) lookupPartition(ctx context.Context, namespace string) (partition string, ok bool, err error) {
	if err := s.ensureCollection(ctx); err != nil {
		return "", false, err
	}

	partition = PartitionName(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitions[partition] {
		return partition, true, nil
	}

	has, err := s.b.HasPartition(ctx, s.collection, partition)
	if err != nil {
		return "", false, fmt.Errorf("checking partition existence: %w", err)
	}
	if has {
		s.partitions[partition] = true
	}
	return partition, has, nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	partition, err := s.ensurePartition(ctx, namespace)
	if err != nil {
		return err
	}

	n := len(vectors)
	ids := make([]string, n)
	values := make([][]float32, n)
	namespaces := make([]string, n)
	userIDs := make([]string, n)
	orgIDs := make([]string, n)
	sourceURLs := make([]string, n)
	types := make([]string, n)
	pageNumbers := make([]int64, n)
	createdAt := make([]string, n)

	for i, v := range vectors {
		if len(v.Values) != s.dimension {
			return fmt.Errorf("vector %s has dimension %d, collection expects %d", v.ID, len(v.Values), s.dimension)
		}
		ids[i] = v.ID
		values[i] = v.Values
		namespaces[i] = v.Metadata.Namespace
		userIDs[i] = v.Metadata.UserID
		orgIDs[i] = v.Metadata.OrgID
		sourceURLs[i] = v.Metadata.SourceURL
		types[i] = string(v.Metadata.Type)
		pageNumbers[i] = int64(v.Metadata.PageNumber)
		createdAt[i] = v.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, s.dimension, values),
		entity.NewColumnVarChar(fieldNamespace, namespaces),
		entity.NewColumnVarChar(fieldUserID, userIDs),
		entity.NewColumnVarChar(fieldOrgID, orgIDs),
		entity.NewColumnVarChar(fieldSourceURL, sourceURLs),
		entity.NewColumnVarChar(fieldType, types),
		entity.NewColumnInt64(fieldPageNumber, pageNumbers),
		entity.NewColumnVarChar(fieldCreatedAt, createdAt),
	}

	if err := s.b.Upsert(ctx, s.collection, partition, columns...); err != nil {
		return fmt.Errorf("upserting vectors: %w", err)
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(ctx context.Context, namespace string, q vectorstore.Query) ([]vectorstore.Match, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	partition, ok, err := s.lookupPartition(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []vectorstore.Match{}, nil
	}

	if err := s.b.LoadCollection(ctx, s.collection); err != nil {
		return nil, fmt.Errorf("loading collection: %w", err)
	}

	sp, err := entity.NewIndexSCANNSearchParam(searchClusters, reorderK)
	if err != nil {
		return nil, fmt.Errorf("creating search param: %w", err)
	}

	t := time.Now()
	results, err := s.b.Search(ctx, s.collection, partition, TenantExpr(q.Filter), outputFields, entity.FloatVector(q.Vector), q.TopK, sp)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	s.logger.Debug("Vector search.", zap.Duration("duration", time.Since(t)))

	// One query vector yields at most one result set.
	if len(results) == 0 {
		return []vectorstore.Match{}, nil
	}
	return decodeMatches(results[0])
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string, f vectorstore.Filter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	partition, ok, err := s.lookupPartition(ctx, namespace)
	if err != nil || !ok {
		return 0, err
	}

	if err := s.b.LoadCollection(ctx, s.collection); err != nil {
		return 0, fmt.Errorf("loading collection for delete: %w", err)
	}

	// Resolve which of the requested IDs belong to the tenant before deleting
	// by primary key.
	rs, err := s.b.Query(ctx, s.collection, partition, idsExpr(ids)+" && "+TenantExpr(f), []string{fieldID})
	if err != nil {
		return 0, fmt.Errorf("resolving vectors to delete: %w", err)
	}

	owned, err := getStringData(rs.GetColumn(fieldID))
	if err != nil {
		return 0, fmt.Errorf("error with id column: %w", err)
	}
	if len(owned) == 0 {
		return 0, nil
	}

	if err := s.b.Delete(ctx, s.collection, partition, idsExpr(owned)); err != nil {
		return 0, fmt.Errorf("deleting vectors: %w", err)
	}
	return len(owned), nil
}

// Stats implements vectorstore.Store. Statistics are read from the
// collection, or from the namespace partition when namespace is set; neither
// is created when missing.
func (s *Store) Stats(ctx context.Context, namespace string) (*vectorstore.Stats, error) {
	stats := &vectorstore.Stats{Namespace: namespace, Dimension: s.dimension}

	has, err := s.b.HasCollection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection existence: %w", err)
	}
	if !has {
		return stats, nil
	}

	var raw map[string]string
	if namespace == "" {
		raw, err = s.b.CollectionStatistics(ctx, s.collection)
	} else {
		partition, ok, lookupErr := s.lookupPartition(ctx, namespace)
		if lookupErr != nil || !ok {
			return stats, lookupErr
		}
		raw, err = s.b.PartitionStatistics(ctx, s.collection, partition)
	}
	if err != nil {
		return nil, fmt.Errorf("reading statistics: %w", err)
	}

	if rc, ok := raw[statRowCount]; ok {
		n, err := strconv.ParseInt(rc, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing row count %q: %w", rc, err)
		}
		stats.VectorCount = n
	}
	return stats, nil
}

// Health implements vectorstore.Store.
func (s *Store) Health(ctx context.Context) error {
	healthy, err := s.b.CheckHealth(ctx)
	if err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	if !healthy {
		return fmt.Errorf("milvus reports unhealthy state")
	}
	return nil
}

// Close implements vectorstore.Store.
func (s *Store) Close() error {
	return s.b.Close()
}

func decodeMatches(result client.SearchResult) ([]vectorstore.Match, error) {
	ids, err := getStringData(result.IDs)
	if err != nil {
		return nil, fmt.Errorf("error with id column: %w", err)
	}

	strCols := map[string][]string{}
	for _, name := range []string{fieldNamespace, fieldUserID, fieldOrgID, fieldSourceURL, fieldType, fieldCreatedAt} {
		data, err := getStringData(result.Fields.GetColumn(name))
		if err != nil {
			return nil, fmt.Errorf("error with %s column: %w", name, err)
		}
		if len(data) != len(ids) {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", name, len(data), len(ids))
		}
		strCols[name] = data
	}

	pageCol, ok := result.Fields.GetColumn(fieldPageNumber).(*entity.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("unexpected type for %s column", fieldPageNumber)
	}
	pages := pageCol.Data()
	if len(pages) != len(ids) || len(result.Scores) != len(ids) {
		return nil, fmt.Errorf("search result rows are misaligned")
	}

	matches := make([]vectorstore.Match, len(ids))
	for i, id := range ids {
		createdAt, err := time.Parse(time.RFC3339Nano, strCols[fieldCreatedAt][i])
		if err != nil {
			return nil, fmt.Errorf("parsing created_at of %s: %w", id, err)
		}
		matches[i] = vectorstore.Match{
			ID:    id,
			Score: result.Scores[i],
			Metadata: vectorstore.Metadata{
				Namespace:  strCols[fieldNamespace][i],
				UserID:     strCols[fieldUserID][i],
				OrgID:      strCols[fieldOrgID][i],
				SourceURL:  strCols[fieldSourceURL][i],
				Type:       vectorstore.VectorType(strCols[fieldType][i]),
				PageNumber: int(pages[i]),
				CreatedAt:  createdAt,
			},
		}
	}
	return matches, nil
}

// Helper function to safely get string data from a column
func getStringData(col entity.Column) ([]string, error) {
	switch v := col.(type) {
	case *entity.ColumnVarChar:
		return v.Data(), nil
	case *entity.ColumnString:
		return v.Data(), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected column type for string data: %T", col)
	}
}
