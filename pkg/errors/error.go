// package errors contains domain errors that the adapters, activities and the
// workflow gateway use to add meaning to a failure. The kind of a domain error
// doubles as the Temporal application error type, so a failure keeps its class
// when it crosses the activity boundary. This is implemented as a separate
// package in order to avoid cycle import errors.
package errors

import (
	"errors"
	"fmt"
	"strings"

	errorsx "github.com/instill-ai/x/errors"
)

// Kind names a class of failure.
type Kind string

// Failure classes raised by the embedding pipeline.
const (
	// KindEmbedding is used when the provider returned no vector.
	KindEmbedding Kind = "EmbeddingError"
	// KindMalformedEmbedding is used when a vector is empty or contains
	// non-finite values.
	KindMalformedEmbedding Kind = "MalformedEmbeddingError"
	// KindUpsert is used when the vector store rejected a write.
	KindUpsert Kind = "UpsertError"
	// KindQuery is used when the vector store failed to answer a search.
	KindQuery Kind = "QueryError"
	// KindDelete is used when the vector store failed to delete vectors.
	KindDelete Kind = "DeleteError"
	// KindConnection is used when the orchestration backend is unreachable.
	KindConnection Kind = "ConnectionError"
	// KindUpload is used when the object stage failed to store a file.
	KindUpload Kind = "UploadError"
)

// The following errors serve as sentinels for errors.Is. A domain error
// matches the sentinel of its kind regardless of the wrapped cause.
var (
	ErrEmbedding          = &Error{Kind: KindEmbedding}
	ErrMalformedEmbedding = &Error{Kind: KindMalformedEmbedding}
	ErrUpsert             = &Error{Kind: KindUpsert}
	ErrQuery              = &Error{Kind: KindQuery}
	ErrDelete             = &Error{Kind: KindDelete}
	ErrConnection         = &Error{Kind: KindConnection}
	ErrUpload             = &Error{Kind: KindUpload}
)

var (
	// ErrInvalidArgument is used when the provided argument is incorrect (e.g.
	// format, range).
	ErrInvalidArgument = errorsx.ErrInvalidArgument
	// ErrNotFound is used when a resource doesn't exist.
	ErrNotFound = errorsx.ErrNotFound
	// ErrUnsupportedInput is used when an adapter can't handle the kind of
	// input it was given, e.g. images on a text-only embedding model.
	ErrUnsupportedInput = fmt.Errorf("unsupported input")
)

// Error is a domain failure together with the context it happened in.
type Error struct {
	Kind       Kind
	Workflow   string // workflow kind, e.g. "pdf-embed"
	PageNumber int    // 1-based, zero outside PDF processing
	Err        error
}

// New wraps err into a domain error of the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a domain error of the given kind from a formatted cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// InWorkflow returns a copy of e attributed to a workflow kind.
func (e *Error) InWorkflow(workflow string) *Error {
	cp := *e
	cp.Workflow = workflow
	return &cp
}

// OnPage returns a copy of e attributed to a PDF page.
func (e *Error) OnPage(pageNumber int) *Error {
	cp := *e
	cp.PageNumber = pageNumber
	return &cp
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Workflow != "" {
		fmt.Fprintf(&b, " (%s)", e.Workflow)
	}
	if e.PageNumber > 0 {
		fmt.Fprintf(&b, " on page %d", e.PageNumber)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels (domain errors without a cause) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// Message returns the end-user message attached to err, falling back to a
// generic message per kind.
func Message(err error) string {
	if msg := errorsx.Message(err); msg != "" {
		return msg
	}

	kind, _ := KindOf(err)
	switch kind {
	case KindEmbedding, KindMalformedEmbedding:
		return "Unable to compute the embedding. Please try again."
	case KindUpsert:
		return "Unable to store the embedding. Please try again."
	case KindQuery:
		return "Unable to search the vector index. Please try again."
	case KindDelete:
		return "Unable to delete the vectors. Please try again."
	case KindConnection:
		return "The workflow service is unavailable. Please try again later."
	case KindUpload:
		return "Unable to upload the file. Please try again."
	}
	return err.Error()
}
