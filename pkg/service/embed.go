package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/object"
	"github.com/instill-ai/vision-rag-backend/pkg/pdfpage"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

// PDFHandle is returned when a PDF embedding workflow starts.
type PDFHandle struct {
	*wfparam.WorkflowHandle
	PageCount int `json:"pageCount"`
}

// EmbedImage stages an image and starts its embedding workflow.
func (s *service) EmbedImage(ctx context.Context, file UploadFile, tenant wfparam.Tenant) (*wfparam.WorkflowHandle, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}

	up, err := s.upload(ctx, file.Data, file.Name, file.ContentType, tenant)
	if err != nil {
		return nil, err
	}

	return s.gateway.Start(ctx, wfparam.KindImageEmbed, wfparam.ImageEmbedInput{
		GCSURL:        up.URL,
		Base64Payload: up.Base64,
		UserID:        tenant.UserID,
		Namespace:     tenant.Namespace,
		OrgID:         tenant.OrgID,
	})
}

// EmbedPDF renders every page of a PDF, stages the renditions and starts a
// single workflow that embeds them in page order.
func (s *service) EmbedPDF(ctx context.Context, file UploadFile, tenant wfparam.Tenant) (*PDFHandle, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}

	pages, err := pdfpage.Split(file.Data, pdfpage.WithMaxPages(s.maxPDFPages))
	if err != nil {
		return nil, err
	}

	logger := s.log.With(zap.String("file", file.Name), zap.Int("pages", len(pages)))
	logger.Info("Splitting PDF into pages")

	inputs := make([]wfparam.PageInput, 0, len(pages))
	for _, p := range pages {
		up, err := s.upload(ctx, p.PNG, pdfpage.FileName(file.Name, p.Number), pdfpage.ContentType, tenant)
		if err != nil {
			logger.Error("Failed to stage page", zap.Int("page", p.Number), zap.Error(err))
			return nil, err
		}

		inputs = append(inputs, wfparam.PageInput{
			GCSURL:        up.URL,
			Base64Payload: up.Base64,
			UserID:        tenant.UserID,
			Namespace:     tenant.Namespace,
			OrgID:         tenant.OrgID,
			PageNumber:    p.Number,
		})
	}

	handle, err := s.gateway.Start(ctx, wfparam.KindPdfEmbed, wfparam.PdfEmbedInput{Pages: inputs})
	if err != nil {
		return nil, err
	}
	return &PDFHandle{WorkflowHandle: handle, PageCount: len(inputs)}, nil
}

// DeleteVectors starts a workflow removing vectors owned by the tenant.
func (s *service) DeleteVectors(ctx context.Context, input wfparam.DeleteVectorsInput) (*wfparam.WorkflowHandle, error) {
	return s.gateway.Start(ctx, wfparam.KindDeleteVectors, input)
}

// Status reports the state of a workflow.
func (s *service) Status(ctx context.Context, workflowID string) (*wfparam.WorkflowStatus, error) {
	if workflowID == "" {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: empty workflow ID", errdomain.ErrInvalidArgument),
			"Workflow ID is required.",
		)
	}
	return s.gateway.GetStatus(ctx, workflowID)
}

func (s *service) upload(ctx context.Context, data []byte, fileName, contentType string, tenant wfparam.Tenant) (*object.Upload, error) {
	up, err := s.stage.UploadBuffer(ctx, data, fileName, contentType, tenant.UserID, tenant.Namespace)
	if err != nil {
		if errors.Is(err, errdomain.ErrInvalidArgument) {
			return nil, err
		}
		return nil, errdomain.New(errdomain.KindUpload, fmt.Errorf("staging %s: %w", fileName, err))
	}
	return up, nil
}

func validateTenant(t wfparam.Tenant) error {
	return wfparam.Validate(t)
}
