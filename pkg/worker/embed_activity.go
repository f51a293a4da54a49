package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

// This file contains the embedding activities used by the embed workflows:
// - EmbedImageActivity - embeds a standalone image and upserts its vector
// - EmbedPdfPageActivity - embeds one rendered PDF page and upserts its vector

// Activity error type constants, used when a failure has no domain kind.
const (
	embedImageActivityError   = "EmbedImageActivity"
	embedPdfPageActivityError = "EmbedPdfPageActivity"
)

// EmbedImageActivityParam defines parameters for EmbedImageActivity
type EmbedImageActivityParam struct {
	Base64Payload string // Raw base64 or data URI
	SourceURL     string // Staged object URL, stored as metadata
	UserID        string
	Namespace     string
	OrgID         string
}

// EmbedPdfPageActivityParam defines parameters for EmbedPdfPageActivity
type EmbedPdfPageActivityParam struct {
	Base64Payload string
	SourceURL     string
	PageNumber    int // 1-based
	UserID        string
	Namespace     string
	OrgID         string
}

// EmbedActivityResult identifies the stored vector.
type EmbedActivityResult struct {
	VectorID  string
	Dimension int
}

// EmbedImageActivity computes the embedding of an image and stores it in the
// tenant's namespace.
func (w *Worker) EmbedImageActivity(ctx context.Context, param *EmbedImageActivityParam) (*EmbedActivityResult, error) {
	w.log.Info("Starting EmbedImageActivity",
		zap.String("namespace", param.Namespace),
		zap.String("userID", param.UserID),
		zap.String("orgID", param.OrgID),
		zap.String("sourceURL", param.SourceURL))

	res, err := w.embedImageAndStore(ctx, param)
	if err != nil {
		w.log.Error("EmbedImageActivity failed", zap.String("sourceURL", param.SourceURL), zap.Error(err))
		return nil, domainActivityError(err, embedImageActivityError)
	}

	w.log.Info("EmbedImageActivity completed",
		zap.String("vectorID", res.VectorID),
		zap.Int("dimension", res.Dimension))
	return res, nil
}

// EmbedPdfPageActivity computes the embedding of a rendered PDF page and
// stores it in the tenant's namespace. Errors name the page.
func (w *Worker) EmbedPdfPageActivity(ctx context.Context, param *EmbedPdfPageActivityParam) (*EmbedActivityResult, error) {
	w.log.Info("Starting EmbedPdfPageActivity",
		zap.String("namespace", param.Namespace),
		zap.String("userID", param.UserID),
		zap.String("orgID", param.OrgID),
		zap.Int("pageNumber", param.PageNumber))

	res, err := w.embedPdfPageAndStore(ctx, param)
	if err != nil {
		w.log.Error("EmbedPdfPageActivity failed", zap.Int("pageNumber", param.PageNumber), zap.Error(err))
		return nil, domainActivityError(err, embedPdfPageActivityError)
	}

	w.log.Info("EmbedPdfPageActivity completed",
		zap.Int("pageNumber", param.PageNumber),
		zap.String("vectorID", res.VectorID))
	return res, nil
}

func (w *Worker) embedImageAndStore(ctx context.Context, param *EmbedImageActivityParam) (*EmbedActivityResult, error) {
	id, err := w.vectorID(param.OrgID, param.UserID, 0)
	if err != nil {
		return nil, err
	}

	res, err := w.embedAndStore(ctx, param.Base64Payload, vectorstore.Vector{
		ID: id,
		Metadata: vectorstore.Metadata{
			Namespace: param.Namespace,
			UserID:    param.UserID,
			OrgID:     param.OrgID,
			SourceURL: param.SourceURL,
			Type:      vectorstore.TypeImage,
			CreatedAt: w.now().UTC(),
		},
	})
	if err != nil {
		return nil, attribute(err, wfparam.KindImageEmbed, 0)
	}
	return res, nil
}

func (w *Worker) embedPdfPageAndStore(ctx context.Context, param *EmbedPdfPageActivityParam) (*EmbedActivityResult, error) {
	if param.PageNumber < 1 {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: page number %d", errdomain.ErrInvalidArgument, param.PageNumber),
			"Page numbers start at 1.",
		)
	}

	id, err := w.vectorID(param.OrgID, param.UserID, param.PageNumber)
	if err != nil {
		return nil, err
	}

	res, err := w.embedAndStore(ctx, param.Base64Payload, vectorstore.Vector{
		ID: id,
		Metadata: vectorstore.Metadata{
			Namespace:  param.Namespace,
			UserID:     param.UserID,
			OrgID:      param.OrgID,
			SourceURL:  param.SourceURL,
			Type:       vectorstore.TypePDFPage,
			PageNumber: param.PageNumber,
			CreatedAt:  w.now().UTC(),
		},
	})
	if err != nil {
		return nil, attribute(err, wfparam.KindPdfEmbed, param.PageNumber)
	}
	return res, nil
}

// embedAndStore fills v with the embedding of an image payload and upserts
// it. The vector shape is checked before anything is written.
func (w *Worker) embedAndStore(ctx context.Context, payload string, v vectorstore.Vector) (*EmbedActivityResult, error) {
	values, err := w.embedOne(ctx, embedding.Request{
		Images:          []string{payload},
		InputType:       embedding.InputTypeImage,
		OutputDimension: w.dimension,
	})
	if err != nil {
		return nil, err
	}
	v.Values = values

	if err := w.store.Upsert(ctx, v.Metadata.Namespace, []vectorstore.Vector{v}); err != nil {
		return nil, errdomain.New(errdomain.KindUpsert, errorsx.AddMessage(
			fmt.Errorf("upserting vector %s: %w", v.ID, err),
			"Unable to store the embedding. Please try again.",
		))
	}

	return &EmbedActivityResult{VectorID: v.ID, Dimension: len(values)}, nil
}

// embedOne returns the single vector a request asks for, normalized from
// whichever shape the provider answered with.
func (w *Worker) embedOne(ctx context.Context, req embedding.Request) ([]float32, error) {
	resp, err := w.embedder.Embed(ctx, req)
	if err != nil {
		return nil, errdomain.New(errdomain.KindEmbedding, fmt.Errorf("%s: %w", w.embedder.Name(), err))
	}

	values, ok := resp.Embeddings.First()
	if !ok {
		return nil, errdomain.Newf(errdomain.KindEmbedding, "%s returned no embedding", w.embedder.Name())
	}

	if err := vectorstore.ValidateValues(values); err != nil {
		return nil, errdomain.New(errdomain.KindMalformedEmbedding, err)
	}
	if w.dimension > 0 && len(values) != w.dimension {
		return nil, errdomain.Newf(errdomain.KindMalformedEmbedding,
			"vector has dimension %d, expected %d", len(values), w.dimension)
	}
	return values, nil
}

// vectorID builds a unique vector id.
// Format: {orgID}-{userID}-{unixMillis}-{uuid}, pages add "page-{n}" after
// the user.
func (w *Worker) vectorID(orgID, userID string, pageNumber int) (string, error) {
	u, err := w.newUUID()
	if err != nil {
		return "", fmt.Errorf("generating vector id: %w", err)
	}

	millis := w.now().UnixMilli()
	if pageNumber > 0 {
		return fmt.Sprintf("%s-%s-page-%d-%d-%s", orgID, userID, pageNumber, millis, u), nil
	}
	return fmt.Sprintf("%s-%s-%d-%s", orgID, userID, millis, u), nil
}
