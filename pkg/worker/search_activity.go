package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/temporal"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	errorsx "github.com/instill-ai/x/errors"
)

// This file contains the index read and maintenance activities:
// - SearchActivity - embeds a text query and returns the nearest vectors
// - DeleteVectorsActivity - deletes vectors owned by a tenant

const (
	searchActivityError        = "SearchActivity"
	deleteVectorsActivityError = "DeleteVectorsActivity"
)

// SearchActivityParam defines parameters for SearchActivity
type SearchActivityParam struct {
	Query     string
	Namespace string
	UserID    string
	OrgID     string
	TopK      int
}

// DeleteVectorsActivityParam defines parameters for DeleteVectorsActivity
type DeleteVectorsActivityParam struct {
	IDs       []string
	Namespace string
	UserID    string
	OrgID     string
}

// SearchActivity returns the vectors of the tenant closest to the query, in
// the order the index ranked them.
func (w *Worker) SearchActivity(ctx context.Context, param *SearchActivityParam) ([]temporal.SearchResult, error) {
	w.log.Info("Starting SearchActivity",
		zap.String("namespace", param.Namespace),
		zap.String("userID", param.UserID),
		zap.String("orgID", param.OrgID),
		zap.Int("topK", param.TopK))

	results, err := w.searchSimilarVectors(ctx, param)
	if err != nil {
		w.log.Error("SearchActivity failed", zap.Error(err))
		return nil, domainActivityError(err, searchActivityError)
	}

	w.log.Info("SearchActivity completed", zap.Int("results", len(results)))
	return results, nil
}

// DeleteVectorsActivity deletes the given vectors. Ids the tenant doesn't
// own are left untouched.
func (w *Worker) DeleteVectorsActivity(ctx context.Context, param *DeleteVectorsActivityParam) (int, error) {
	w.log.Info("Starting DeleteVectorsActivity",
		zap.String("namespace", param.Namespace),
		zap.Int("ids", len(param.IDs)))

	filter := vectorstore.Filter{Namespace: param.Namespace, UserID: param.UserID, OrgID: param.OrgID}
	if err := filter.Validate(); err != nil {
		return 0, domainActivityError(err, deleteVectorsActivityError)
	}

	deleted, err := w.store.Delete(ctx, param.Namespace, param.IDs, filter)
	if err != nil {
		err = attribute(errdomain.New(errdomain.KindDelete, errorsx.AddMessage(
			fmt.Errorf("deleting vectors: %w", err),
			"Unable to delete the vectors. Please try again.",
		)), temporal.KindDeleteVectors, 0)
		w.log.Error("DeleteVectorsActivity failed", zap.Error(err))
		return 0, domainActivityError(err, deleteVectorsActivityError)
	}

	w.log.Info("DeleteVectorsActivity completed", zap.Int("deleted", deleted))
	return deleted, nil
}

func (w *Worker) searchSimilarVectors(ctx context.Context, param *SearchActivityParam) ([]temporal.SearchResult, error) {
	filter := vectorstore.Filter{Namespace: param.Namespace, UserID: param.UserID, OrgID: param.OrgID}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	topK := param.TopK
	if topK == 0 {
		topK = temporal.DefaultTopK
	}
	if topK < 1 || topK > temporal.MaxTopK {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: topK %d out of range [1, %d]", errdomain.ErrInvalidArgument, topK, temporal.MaxTopK),
			fmt.Sprintf("topK must be between 1 and %d.", temporal.MaxTopK),
		)
	}

	queryVector, err := w.embedOne(ctx, embedding.Request{
		Texts:           []string{param.Query},
		InputType:       embedding.InputTypeSearchQuery,
		OutputDimension: w.dimension,
	})
	if err != nil {
		return nil, attribute(err, temporal.KindSearch, 0)
	}

	matches, err := w.store.Query(ctx, param.Namespace, vectorstore.Query{
		Vector: queryVector,
		TopK:   topK,
		Filter: filter,
	})
	if err != nil {
		return nil, attribute(errdomain.New(errdomain.KindQuery, errorsx.AddMessage(
			fmt.Errorf("querying index: %w", err),
			"Unable to search the vector index. Please try again.",
		)), temporal.KindSearch, 0)
	}

	if len(matches) > topK {
		matches = matches[:topK]
	}

	results := make([]temporal.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, temporal.SearchResult{
			ID:        m.ID,
			Score:     m.Score,
			SourceURL: m.Metadata.SourceURL,
			Metadata:  resultMetadata(m.Metadata),
		})
	}
	return results, nil
}

func resultMetadata(m vectorstore.Metadata) map[string]any {
	md := map[string]any{
		"namespace": m.Namespace,
		"userId":    m.UserID,
		"orgId":     m.OrgID,
		"gcsUrl":    m.SourceURL,
		"type":      string(m.Type),
	}
	if m.PageNumber > 0 {
		md["pageNumber"] = m.PageNumber
	}
	if !m.CreatedAt.IsZero() {
		md["createdAt"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return md
}
