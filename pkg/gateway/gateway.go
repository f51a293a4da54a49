// Package gateway starts the vision RAG workflows on Temporal and reports
// their progress. It is the only component callers use to talk to the
// orchestration backend.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

const dedupKeyPrefix = "vision-rag:workflow:dedup:"

// WorkflowClient is the subset of the Temporal client the gateway uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
	GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	CheckHealth(ctx context.Context, request *client.CheckHealthRequest) (*client.CheckHealthResponse, error)
}

// DedupStore is the subset of the Redis client used to deduplicate start
// requests.
type DedupStore interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Gateway starts workflows and reads their state.
type Gateway struct {
	client      WorkflowClient
	taskQueue   string
	dedup       DedupStore
	dedupWindow time.Duration
	log         *zap.Logger

	now     func() time.Time
	newUUID func() (uuid.UUID, error)
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithTaskQueue overrides the task queue workflows are started on.
func WithTaskQueue(taskQueue string) Option {
	return func(g *Gateway) {
		if taskQueue != "" {
			g.taskQueue = taskQueue
		}
	}
}

// WithDedup maps identical start requests received within window to the
// first workflow. A zero window or a nil store disables deduplication.
func WithDedup(store DedupStore, window time.Duration) Option {
	return func(g *Gateway) {
		if store == nil || window <= 0 {
			return
		}
		g.dedup = store
		g.dedupWindow = window
	}
}

// New returns a gateway backed by a Temporal client.
func New(c WorkflowClient, log *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		client:    c,
		taskQueue: wfparam.TaskQueue,
		log:       log,
		now:       time.Now,
		newUUID:   uuid.NewV4,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Start validates the input and starts a workflow of the given kind.
func (g *Gateway) Start(ctx context.Context, kind wfparam.Kind, input wfparam.Input) (*wfparam.WorkflowHandle, error) {
	if !kind.Valid() {
		return nil, invalidArgument(fmt.Errorf("unknown workflow kind %q", kind), "Unknown workflow type.")
	}
	if inputKind, ok := wfparam.KindOf(input); !ok || inputKind != kind {
		return nil, invalidArgument(fmt.Errorf("input %T doesn't belong to %s", input, kind), "The input doesn't match the workflow type.")
	}

	input = withDefaults(input)
	if err := wfparam.Validate(input); err != nil {
		return nil, err
	}

	workflowID, err := g.workflowID(kind, input.Tenant())
	if err != nil {
		return nil, fmt.Errorf("generating workflow ID: %w", err)
	}
	handle := &wfparam.WorkflowHandle{WorkflowID: workflowID, TaskQueue: g.taskQueue}

	logger := g.log.With(zap.String("kind", string(kind)))

	var dedupKey string
	if g.dedup != nil {
		key, err := fingerprint(kind, input)
		if err != nil {
			return nil, err
		}

		existing, claimed, err := g.dedupe(ctx, key, handle, logger)
		switch {
		case err != nil:
			// Deduplication is best effort, a Redis outage mustn't block
			// ingestion.
			logger.Warn("Workflow deduplication unavailable", zap.Error(err))
		case existing != nil:
			logger.Info("Duplicate workflow request", zap.String("workflowId", existing.WorkflowID))
			return existing, nil
		case claimed:
			dedupKey = key
		}
	}

	run, err := g.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        handle.WorkflowID,
		TaskQueue: handle.TaskQueue,
	}, string(kind), input)
	if err != nil {
		if dedupKey != "" {
			if delErr := g.dedup.Del(ctx, dedupKey).Err(); delErr != nil {
				logger.Warn("Couldn't release deduplication key", zap.Error(delErr))
			}
		}
		return nil, classify(fmt.Errorf("starting %s: %w", kind, err))
	}
	handle.RunID = run.GetRunID()

	if dedupKey != "" {
		if b, err := json.Marshal(handle); err == nil {
			if err := g.dedup.Set(ctx, dedupKey, b, redis.KeepTTL).Err(); err != nil {
				logger.Warn("Couldn't record workflow run ID", zap.Error(err))
			}
		}
	}

	logger.Info("Workflow started",
		zap.String("workflowId", handle.WorkflowID),
		zap.String("runId", handle.RunID))

	return handle, nil
}

// GetStatus reports the execution status of a workflow, together with its
// result or failure once it has finished.
func (g *Gateway) GetStatus(ctx context.Context, workflowID string) (*wfparam.WorkflowStatus, error) {
	resp, err := g.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, classify(fmt.Errorf("describing workflow %s: %w", workflowID, err))
	}

	st := resp.GetWorkflowExecutionInfo().GetStatus()
	ws := &wfparam.WorkflowStatus{
		WorkflowID: workflowID,
		Status:     StatusName(st),
	}

	switch st {
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result any
		if err := g.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
			return nil, classify(fmt.Errorf("fetching result of %s: %w", workflowID, err))
		}
		ws.Result = result
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED,
		enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enums.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		err := g.client.GetWorkflow(ctx, workflowID, "").Get(ctx, nil)
		if isUnavailable(err) {
			return nil, classify(err)
		}
		ws.Error = failureMessage(err)
	}

	return ws, nil
}

// GetResult blocks until the workflow finishes and decodes its result into
// valuePtr. A failed workflow returns its error.
func (g *Gateway) GetResult(ctx context.Context, workflowID string, valuePtr any) error {
	return g.getResult(ctx, workflowID, "", valuePtr)
}

func (g *Gateway) getResult(ctx context.Context, workflowID, runID string, valuePtr any) error {
	if err := g.client.GetWorkflow(ctx, workflowID, runID).Get(ctx, valuePtr); err != nil {
		return classify(fmt.Errorf("waiting for workflow %s: %w", workflowID, err))
	}
	return nil
}

// Search runs a search workflow and waits for its result.
func (g *Gateway) Search(ctx context.Context, input wfparam.SearchInput) (*wfparam.SearchWorkflowResult, error) {
	handle, err := g.Start(ctx, wfparam.KindSearch, input.WithDefaults())
	if err != nil {
		return nil, err
	}

	result := new(wfparam.SearchWorkflowResult)
	if err := g.getResult(ctx, handle.WorkflowID, handle.RunID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Health checks that the Temporal frontend answers.
func (g *Gateway) Health(ctx context.Context) error {
	if _, err := g.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return errdomain.New(errdomain.KindConnection, fmt.Errorf("checking Temporal health: %w", err))
	}
	return nil
}

// workflowID builds a readable, unique ID such as
// "image-embed-u1-o1-1700000000000-1f2e3d4c".
func (g *Gateway) workflowID(kind wfparam.Kind, t wfparam.Tenant) (string, error) {
	u, err := g.newUUID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s-%d-%s", kind.IDPrefix(), t.UserID, t.OrgID, g.now().UnixMilli(), u.String()[:8]), nil
}

// dedupe claims key for handle, or returns the handle of the earlier
// workflow holding it. A holder that failed, or is unknown to Temporal, is
// evicted so that a retry starts a new workflow.
func (g *Gateway) dedupe(ctx context.Context, key string, handle *wfparam.WorkflowHandle, logger *zap.Logger) (*wfparam.WorkflowHandle, bool, error) {
	for range 2 {
		existing, claimed, err := g.claim(ctx, key, handle)
		if err != nil || existing == nil || g.reusable(ctx, existing) {
			return existing, claimed, err
		}

		logger.Info("Releasing deduplication key of a failed workflow", zap.String("workflowId", existing.WorkflowID))
		if err := g.dedup.Del(ctx, key).Err(); err != nil {
			return nil, false, err
		}
	}
	return nil, false, errors.New("deduplication key contended")
}

// claim reserves key for handle. When another request holds the key, the
// handle stored under it is returned instead.
func (g *Gateway) claim(ctx context.Context, key string, handle *wfparam.WorkflowHandle) (*wfparam.WorkflowHandle, bool, error) {
	b, err := json.Marshal(handle)
	if err != nil {
		return nil, false, err
	}

	ok, err := g.dedup.SetNX(ctx, key, b, g.dedupWindow).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}

	stored, err := g.dedup.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired in between, start a new workflow without a claim.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	existing := new(wfparam.WorkflowHandle)
	if err := json.Unmarshal([]byte(stored), existing); err != nil {
		return nil, false, fmt.Errorf("decoding deduplicated handle: %w", err)
	}
	return existing, false, nil
}

// reusable reports whether a deduplicated workflow may still be handed out.
// Only a terminal failure or a missing execution rules it out; if Temporal
// can't be asked, the handle is kept.
func (g *Gateway) reusable(ctx context.Context, h *wfparam.WorkflowHandle) bool {
	resp, err := g.client.DescribeWorkflowExecution(ctx, h.WorkflowID, h.RunID)
	if err != nil {
		var notFound *serviceerror.NotFound
		return !errors.As(err, &notFound)
	}

	switch resp.GetWorkflowExecutionInfo().GetStatus() {
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED,
		enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enums.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return false
	}
	return true
}

// fingerprint identifies a start request. Embedding requests are keyed by
// tenant and content, since their staged URLs carry the upload time.
func fingerprint(kind wfparam.Kind, input wfparam.Input) (string, error) {
	b, err := json.Marshal(dedupContent(input))
	if err != nil {
		return "", fmt.Errorf("encoding workflow input: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(b)
	return dedupKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

type embedContent struct {
	Tenant wfparam.Tenant `json:"tenant"`
	Pages  []string       `json:"pages"`
}

func dedupContent(input wfparam.Input) any {
	switch in := input.(type) {
	case *wfparam.ImageEmbedInput:
		return dedupContent(*in)
	case *wfparam.PdfEmbedInput:
		return dedupContent(*in)
	case wfparam.ImageEmbedInput:
		return embedContent{Tenant: in.Tenant(), Pages: []string{digest(in.Base64Payload)}}
	case wfparam.PdfEmbedInput:
		c := embedContent{Tenant: in.Tenant(), Pages: make([]string, len(in.Pages))}
		for i, p := range in.Pages {
			c.Pages[i] = fmt.Sprintf("%d:%s", p.PageNumber, digest(p.Base64Payload))
		}
		return c
	}
	return input
}

func digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func withDefaults(input wfparam.Input) wfparam.Input {
	switch in := input.(type) {
	case wfparam.SearchInput:
		return in.WithDefaults()
	case *wfparam.SearchInput:
		d := in.WithDefaults()
		return &d
	}
	return input
}

var statusNames = map[enums.WorkflowExecutionStatus]string{
	enums.WORKFLOW_EXECUTION_STATUS_RUNNING:          "RUNNING",
	enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:        "COMPLETED",
	enums.WORKFLOW_EXECUTION_STATUS_FAILED:           "FAILED",
	enums.WORKFLOW_EXECUTION_STATUS_CANCELED:         "CANCELED",
	enums.WORKFLOW_EXECUTION_STATUS_TERMINATED:       "TERMINATED",
	enums.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW: "CONTINUED_AS_NEW",
	enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:        "TIMED_OUT",
}

// StatusName returns the name callers see for a Temporal execution status.
func StatusName(st enums.WorkflowExecutionStatus) string {
	if name, ok := statusNames[st]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// failureMessage extracts the message the workflow failed with, without the
// Temporal execution envelope.
func failureMessage(err error) string {
	if err == nil {
		return ""
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}

	var execErr *temporal.WorkflowExecutionError
	if errors.As(err, &execErr) {
		if cause := errors.Unwrap(execErr); cause != nil {
			return cause.Error()
		}
	}
	return err.Error()
}

func isUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var unavailable *serviceerror.Unavailable
	if errors.As(err, &unavailable) {
		return true
	}
	var deadline *serviceerror.DeadlineExceeded
	if errors.As(err, &deadline) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// classify maps backend errors onto the domain taxonomy.
func classify(err error) error {
	if isUnavailable(err) {
		return errdomain.New(errdomain.KindConnection, err)
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return errorsx.AddMessage(fmt.Errorf("%w: %w", errdomain.ErrNotFound, err), "Workflow not found.")
	}
	return err
}

func invalidArgument(err error, msg string) error {
	return errorsx.AddMessage(fmt.Errorf("%w: %w", errdomain.ErrInvalidArgument, err), msg)
}
