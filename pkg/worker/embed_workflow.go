package worker

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

// ImageEmbedWorkflow embeds a single staged image and stores its vector.
func (w *Worker) ImageEmbedWorkflow(ctx workflow.Context, param wfparam.ImageEmbedInput) (string, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting ImageEmbedWorkflow",
		"namespace", param.Namespace,
		"userID", param.UserID,
		"orgID", param.OrgID,
		"gcsURL", param.GCSURL)

	if err := wfparam.Validate(param); err != nil {
		return "", invalidInputError(err)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(wfparam.KindImageEmbed))

	activityParam := &EmbedImageActivityParam{
		Base64Payload: param.Base64Payload,
		SourceURL:     param.GCSURL,
		UserID:        param.UserID,
		Namespace:     param.Namespace,
		OrgID:         param.OrgID,
	}

	var result EmbedActivityResult
	if err := workflow.ExecuteActivity(ctx, w.EmbedImageActivity, activityParam).Get(ctx, &result); err != nil {
		logger.Error("Failed to embed image", "error", err)
		return "", err
	}

	logger.Info("ImageEmbedWorkflow completed", "vectorID", result.VectorID)
	return wfparam.ImageEmbedResult, nil
}

// PdfEmbedWorkflow embeds the pages of a document one after the other, in
// input order. The first page that exhausts its retries fails the workflow;
// vectors of earlier pages stay in the index and later pages never run.
func (w *Worker) PdfEmbedWorkflow(ctx workflow.Context, param wfparam.PdfEmbedInput) (string, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting PdfEmbedWorkflow", "pageCount", len(param.Pages))

	if err := wfparam.Validate(param); err != nil {
		return "", invalidInputError(err)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(wfparam.KindPdfEmbed))

	for i, page := range param.Pages {
		activityParam := &EmbedPdfPageActivityParam{
			Base64Payload: page.Base64Payload,
			SourceURL:     page.GCSURL,
			PageNumber:    page.PageNumber,
			UserID:        page.UserID,
			Namespace:     page.Namespace,
			OrgID:         page.OrgID,
		}

		var result EmbedActivityResult
		if err := workflow.ExecuteActivity(ctx, w.EmbedPdfPageActivity, activityParam).Get(ctx, &result); err != nil {
			logger.Error("Failed to embed page",
				"pageNumber", page.PageNumber,
				"embeddedPages", i,
				"error", err)
			return "", temporal.NewApplicationErrorWithCause(
				fmt.Sprintf("Unable to embed page %d of the document. Please try again.", page.PageNumber),
				pageErrorType(err),
				err,
				page.PageNumber,
			)
		}

		logger.Info("Page embedded",
			"pageNumber", page.PageNumber,
			"progress", fmt.Sprintf("%d/%d", i+1, len(param.Pages)),
			"vectorID", result.VectorID)
	}

	logger.Info("PdfEmbedWorkflow completed", "pageCount", len(param.Pages))
	return wfparam.PdfEmbedResult, nil
}

// pageErrorType keeps the failure class of the page activity on the
// workflow error.
func pageErrorType(err error) string {
	if t := ErrorType(err); t != "" {
		return t
	}
	return embedPdfPageActivityError
}

// invalidInputError fails a workflow whose input can't succeed on retry.
func invalidInputError(err error) error {
	return temporal.NewNonRetryableApplicationError(
		errorsx.MessageOrErr(err),
		invalidInputErrorType,
		err,
	)
}

const invalidInputErrorType = "InvalidArgument"
