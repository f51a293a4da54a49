package temporal

const (
	// TaskQueue is the Temporal task queue the vision RAG workers poll.
	TaskQueue = "vision-rag-queue"
)

// Kind identifies a workflow type. The string value is the registered
// workflow name.
type Kind string

// Workflow kinds.
const (
	KindImageEmbed    Kind = "ImageEmbedWorkflow"
	KindPdfEmbed      Kind = "PdfEmbedWorkflow"
	KindSearch        Kind = "SearchWorkflow"
	KindDeleteVectors Kind = "DeleteVectorsWorkflow"
)

// Kinds lists every workflow kind.
var Kinds = []Kind{KindImageEmbed, KindPdfEmbed, KindSearch, KindDeleteVectors}

// Search bounds.
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// Result messages returned by the embedding workflows.
const (
	ImageEmbedResult = "Image successfully embedded and stored!"
	PdfEmbedResult   = "PDF embedding workflow completed!"
)

// Tenant scopes every upload, vector and query.
type Tenant struct {
	Namespace string `json:"namespace" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	OrgID     string `json:"orgId" validate:"required"`
}

// ImageEmbedInput contains parameters for the image embedding workflow.
type ImageEmbedInput struct {
	GCSURL        string `json:"gcsUrl" validate:"required"`
	Base64Payload string `json:"base64" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	Namespace     string `json:"namespace" validate:"required"`
	OrgID         string `json:"orgId" validate:"required"`
}

// PageInput is a single rendered PDF page.
type PageInput struct {
	GCSURL        string `json:"gcsUrl" validate:"required"`
	Base64Payload string `json:"base64" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	Namespace     string `json:"namespace" validate:"required"`
	OrgID         string `json:"orgId" validate:"required"`
	PageNumber    int    `json:"pageNumber" validate:"min=1"` // 1-based
}

// PdfEmbedInput contains parameters for the PDF embedding workflow. Pages
// are embedded in slice order.
type PdfEmbedInput struct {
	Pages []PageInput `json:"pages" validate:"required,min=1,dive"`
}

// SearchInput contains parameters for the search workflow.
type SearchInput struct {
	Query     string `json:"query" validate:"required"`
	Namespace string `json:"namespace" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	OrgID     string `json:"orgId" validate:"required"`
	TopK      int    `json:"topK,omitempty" validate:"min=0,max=100"` // 0 means DefaultTopK
}

// DeleteVectorsInput contains parameters for the vector deletion workflow.
type DeleteVectorsInput struct {
	IDs       []string `json:"ids" validate:"required,min=1,dive,required"`
	Namespace string   `json:"namespace" validate:"required"`
	UserID    string   `json:"userId" validate:"required"`
	OrgID     string   `json:"orgId" validate:"required"`
}

// SearchResult is a single match of a search.
type SearchResult struct {
	ID        string         `json:"id"`
	Score     float32        `json:"score"`
	SourceURL string         `json:"gcsUrl"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchWorkflowResult is the value returned by SearchWorkflow.
type SearchWorkflowResult struct {
	Results      []SearchResult `json:"results"`
	Query        string         `json:"query"`
	TotalResults int            `json:"totalResults"`
}

// DeleteVectorsResult is the value returned by DeleteVectorsWorkflow.
type DeleteVectorsResult struct {
	Deleted int `json:"deleted"`
}

// WorkflowHandle identifies a started workflow execution.
type WorkflowHandle struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
	TaskQueue  string `json:"taskQueue"`
}

// Tenant returns the tenant an input is scoped to.
func (in ImageEmbedInput) Tenant() Tenant {
	return Tenant{Namespace: in.Namespace, UserID: in.UserID, OrgID: in.OrgID}
}

// Tenant returns the tenant of the first page. Validation guarantees every
// page belongs to it.
func (in PdfEmbedInput) Tenant() Tenant {
	if len(in.Pages) == 0 {
		return Tenant{}
	}
	p := in.Pages[0]
	return Tenant{Namespace: p.Namespace, UserID: p.UserID, OrgID: p.OrgID}
}

// Tenant returns the tenant an input is scoped to.
func (in SearchInput) Tenant() Tenant {
	return Tenant{Namespace: in.Namespace, UserID: in.UserID, OrgID: in.OrgID}
}

// Tenant returns the tenant an input is scoped to.
func (in DeleteVectorsInput) Tenant() Tenant {
	return Tenant{Namespace: in.Namespace, UserID: in.UserID, OrgID: in.OrgID}
}

// WithDefaults returns a copy of the input with an unset TopK replaced by
// DefaultTopK.
func (in SearchInput) WithDefaults() SearchInput {
	if in.TopK == 0 {
		in.TopK = DefaultTopK
	}
	return in
}

// WorkflowStatus is the execution state of a workflow as reported to callers.
// Result is set once the workflow completed and Error once it failed.
type WorkflowStatus struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}
