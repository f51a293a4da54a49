package worker

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

// activityError converts an error returned inside an activity into a Temporal
// application error of type errType. The end-user message, if any, becomes
// the error message and the cause is kept for logs.
func activityError(err error, errType string) error {
	return temporal.NewApplicationErrorWithCause(
		errorsx.MessageOrErr(err),
		errType,
		err,
	)
}

// activityErrorNonRetryable is used for failures that won't succeed on a
// later attempt, e.g. malformed input.
func activityErrorNonRetryable(err error, errType string) error {
	return temporal.NewNonRetryableApplicationError(
		errorsx.MessageOrErr(err),
		errType,
		err,
	)
}

// domainActivityError picks the application error type from the domain kind
// of err, so callers can tell failure classes apart after the activity
// boundary. Invalid arguments stop the retry loop.
func domainActivityError(err error, fallbackType string) error {
	errType := fallbackType
	if kind, ok := errdomain.KindOf(err); ok {
		errType = string(kind)
	}

	if errors.Is(err, errdomain.ErrInvalidArgument) {
		return activityErrorNonRetryable(err, errType)
	}
	return activityError(err, errType)
}

// attribute records the workflow kind, and the page for PDF processing, on a
// domain error. Other errors are returned as they are.
func attribute(err error, kind wfparam.Kind, pageNumber int) error {
	de, ok := err.(*errdomain.Error)
	if !ok {
		return err
	}

	de = de.InWorkflow(kind.IDPrefix())
	if pageNumber > 0 {
		de = de.OnPage(pageNumber)
	}
	return de
}

// ErrorType returns the application error type carried by a workflow or
// activity error, e.g. "MalformedEmbeddingError".
func ErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
