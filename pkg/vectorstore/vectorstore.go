// Package vectorstore defines the contract the embedding pipeline needs from a
// namespaced vector index, together with the tenant-scoped metadata stored
// alongside every vector.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"time"

	errorsx "github.com/instill-ai/x/errors"
)

// VectorType tags what a stored vector was computed from.
type VectorType string

const (
	// TypeImage is a vector computed from a standalone image.
	TypeImage VectorType = "image"
	// TypePDFPage is a vector computed from one rendered PDF page.
	TypePDFPage VectorType = "pdf_page"
)

// Metadata is stored next to each vector and returned with search matches.
type Metadata struct {
	Namespace  string     `json:"namespace"`
	UserID     string     `json:"userId"`
	OrgID      string     `json:"orgId"`
	SourceURL  string     `json:"gcsUrl"`
	Type       VectorType `json:"type"`
	PageNumber int        `json:"pageNumber,omitempty"` // 1-based, zero for images
	CreatedAt  time.Time  `json:"createdAt"`
}

// Vector is a record owned by the index once upserted.
type Vector struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Filter scopes an operation to one tenant. Every field is mandatory: an
// operation is never allowed to cross the (namespace, user, org) boundary.
type Filter struct {
	Namespace string
	UserID    string
	OrgID     string
}

// Validate rejects filters that would widen the tenant scope.
func (f Filter) Validate() error {
	switch {
	case f.Namespace == "":
		return errorsx.AddMessage(fmt.Errorf("%w: empty namespace in filter", errorsx.ErrInvalidArgument), "Namespace is required.")
	case f.UserID == "":
		return errorsx.AddMessage(fmt.Errorf("%w: empty user ID in filter", errorsx.ErrInvalidArgument), "User ID is required.")
	case f.OrgID == "":
		return errorsx.AddMessage(fmt.Errorf("%w: empty org ID in filter", errorsx.ErrInvalidArgument), "Organization ID is required.")
	}
	return nil
}

// Matches reports whether m belongs to the filter's tenant.
func (f Filter) Matches(m Metadata) bool {
	return m.Namespace == f.Namespace && m.UserID == f.UserID && m.OrgID == f.OrgID
}

// Query is a nearest-neighbor request.
type Query struct {
	Vector []float32
	TopK   int
	Filter Filter
}

// Match is a single search hit. Higher scores are more similar.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Stats describes the content of the index, or of one namespace.
type Stats struct {
	Namespace   string `json:"namespace,omitempty"`
	VectorCount int64  `json:"vectorCount"`
	Dimension   int    `json:"dimension,omitempty"`
}

// Store wraps upsert, query and delete against a namespaced vector index.
// Implementations hold no per-request state and are safe for concurrent use.
type Store interface {
	// Upsert inserts or replaces vectors by ID in the namespace partition.
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// Query returns up to q.TopK matches restricted by q.Filter, in the order
	// the index ranks them.
	Query(ctx context.Context, namespace string, q Query) ([]Match, error)
	// Delete removes the vectors among ids that belong to the filter's tenant
	// and returns how many were removed.
	Delete(ctx context.Context, namespace string, ids []string, f Filter) (int, error)
	// Stats counts the vectors of a namespace, or of the whole index when
	// namespace is empty.
	Stats(ctx context.Context, namespace string) (*Stats, error)
	// Health checks that the index is reachable.
	Health(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// ValidateValues checks the shape invariant every stored vector must hold:
// non-empty and made of finite numbers only.
func ValidateValues(values []float32) error {
	if len(values) == 0 {
		return fmt.Errorf("vector is empty")
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector element %d is not finite (%v)", i, v)
		}
	}
	return nil
}
