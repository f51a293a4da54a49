package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
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

	qt "github.com/frankban/quicktest"
	workflowpb "go.temporal.io/api/workflow/v1"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
)

var testUUID = uuid.Must(uuid.FromString("1f2e3d4c-5b6a-4789-8abc-def012345678"))

type startCall struct {
	options  client.StartWorkflowOptions
	workflow any
	args     []any
}

type fakeRun struct {
	client.WorkflowRun

	id, runID string
	get       func(valuePtr any) error
}

func (r *fakeRun) GetID() string    { return r.id }
func (r *fakeRun) GetRunID() string { return r.runID }

func (r *fakeRun) Get(_ context.Context, valuePtr any) error {
	if r.get == nil {
		return nil
	}
	return r.get(valuePtr)
}

type fakeClient struct {
	starts   []startCall
	startErr error

	statuses    map[string]enums.WorkflowExecutionStatus
	describeErr error
	results     map[string]func(valuePtr any) error
	healthErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses: map[string]enums.WorkflowExecutionStatus{},
		results:  map[string]func(valuePtr any) error{},
	}
}

func (c *fakeClient) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.starts = append(c.starts, startCall{options: options, workflow: workflow, args: args})
	c.statuses[options.ID] = enums.WORKFLOW_EXECUTION_STATUS_RUNNING
	return &fakeRun{id: options.ID, runID: fmt.Sprintf("run-%d", len(c.starts))}, nil
}

func (c *fakeClient) GetWorkflow(_ context.Context, workflowID string, runID string) client.WorkflowRun {
	return &fakeRun{id: workflowID, runID: runID, get: c.results[workflowID]}
}

func (c *fakeClient) DescribeWorkflowExecution(_ context.Context, workflowID, _ string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	if c.describeErr != nil {
		return nil, c.describeErr
	}
	st, ok := c.statuses[workflowID]
	if !ok {
		return nil, serviceerror.NewNotFound("workflow not found")
	}
	return &workflowservice.DescribeWorkflowExecutionResponse{
		WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{Status: st},
	}, nil
}

func (c *fakeClient) CheckHealth(context.Context, *client.CheckHealthRequest) (*client.CheckHealthResponse, error) {
	if c.healthErr != nil {
		return nil, c.healthErr
	}
	return &client.CheckHealthResponse{}, nil
}

// fakeRedis keeps keys in memory and ignores expirations.
type fakeRedis struct {
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (r *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if r.err != nil {
		return redis.NewBoolResult(false, r.err)
	}
	if _, ok := r.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	r.data[key] = string(value.([]byte))
	return redis.NewBoolResult(true, nil)
}

func (r *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := r.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (r *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	r.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := r.data[k]; ok {
			delete(r.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func newTestGateway(c WorkflowClient, opts ...Option) *Gateway {
	g := New(c, zap.NewNop(), opts...)
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }
	g.newUUID = func() (uuid.UUID, error) { return testUUID, nil }
	return g
}

func imageInput() wfparam.ImageEmbedInput {
	return wfparam.ImageEmbedInput{
		GCSURL:        "gs://bucket/ns1/u1/1700000000000-cat.png",
		Base64Payload: "aGVsbG8=",
		UserID:        "u1",
		Namespace:     "ns1",
		OrgID:         "o1",
	}
}

func TestStart(t *testing.T) {
	c := qt.New(t)

	testcases := []struct {
		name   string
		kind   wfparam.Kind
		input  wfparam.Input
		wantID string
	}{
		{
			name:   "image",
			kind:   wfparam.KindImageEmbed,
			input:  imageInput(),
			wantID: "image-embed-u1-o1-1700000000000-1f2e3d4c",
		},
		{
			name: "pdf",
			kind: wfparam.KindPdfEmbed,
			input: wfparam.PdfEmbedInput{Pages: []wfparam.PageInput{{
				GCSURL: "gs://b/p1.png", Base64Payload: "cDE=", UserID: "u1", Namespace: "ns1", OrgID: "o1", PageNumber: 1,
			}}},
			wantID: "pdf-embed-u1-o1-1700000000000-1f2e3d4c",
		},
		{
			name:   "search",
			kind:   wfparam.KindSearch,
			input:  wfparam.SearchInput{Query: "cat", Namespace: "ns1", UserID: "u1", OrgID: "o1"},
			wantID: "search-u1-o1-1700000000000-1f2e3d4c",
		},
		{
			name:   "delete",
			kind:   wfparam.KindDeleteVectors,
			input:  wfparam.DeleteVectorsInput{IDs: []string{"a"}, Namespace: "ns1", UserID: "u1", OrgID: "o1"},
			wantID: "delete-vectors-u1-o1-1700000000000-1f2e3d4c",
		},
	}

	for _, tc := range testcases {
		c.Run(tc.name, func(c *qt.C) {
			fc := newFakeClient()
			g := newTestGateway(fc)

			handle, err := g.Start(context.Background(), tc.kind, tc.input)
			c.Assert(err, qt.IsNil)
			c.Check(handle.WorkflowID, qt.Equals, tc.wantID)
			c.Check(handle.RunID, qt.Equals, "run-1")
			c.Check(handle.TaskQueue, qt.Equals, "vision-rag-queue")

			c.Assert(fc.starts, qt.HasLen, 1)
			c.Check(fc.starts[0].options.ID, qt.Equals, tc.wantID)
			c.Check(fc.starts[0].options.TaskQueue, qt.Equals, "vision-rag-queue")
			c.Check(fc.starts[0].workflow, qt.Equals, string(tc.kind))
		})
	}
}

func TestStart_SearchDefaults(t *testing.T) {
	c := qt.New(t)

	fc := newFakeClient()
	g := newTestGateway(fc, WithTaskQueue("other-queue"))

	handle, err := g.Start(context.Background(), wfparam.KindSearch, wfparam.SearchInput{
		Query: "cat", Namespace: "ns1", UserID: "u1", OrgID: "o1",
	})
	c.Assert(err, qt.IsNil)
	c.Check(handle.TaskQueue, qt.Equals, "other-queue")

	c.Assert(fc.starts, qt.HasLen, 1)
	in, ok := fc.starts[0].args[0].(wfparam.SearchInput)
	c.Assert(ok, qt.IsTrue)
	c.Check(in.TopK, qt.Equals, wfparam.DefaultTopK)
}

func TestStart_InvalidInput(t *testing.T) {
	c := qt.New(t)

	testcases := []struct {
		name  string
		kind  wfparam.Kind
		input wfparam.Input
	}{
		{name: "unknown kind", kind: "HelloWorkflow", input: imageInput()},
		{name: "kind mismatch", kind: wfparam.KindSearch, input: imageInput()},
		{name: "missing tenant", kind: wfparam.KindImageEmbed, input: wfparam.ImageEmbedInput{GCSURL: "gs://b/x", Base64Payload: "eA=="}},
		{name: "zero pages", kind: wfparam.KindPdfEmbed, input: wfparam.PdfEmbedInput{}},
		{name: "topK too large", kind: wfparam.KindSearch, input: wfparam.SearchInput{Query: "q", Namespace: "ns1", UserID: "u1", OrgID: "o1", TopK: 101}},
	}

	for _, tc := range testcases {
		c.Run(tc.name, func(c *qt.C) {
			fc := newFakeClient()
			g := newTestGateway(fc)

			_, err := g.Start(context.Background(), tc.kind, tc.input)
			c.Check(errors.Is(err, errdomain.ErrInvalidArgument), qt.IsTrue, qt.Commentf("%v", err))
			c.Check(fc.starts, qt.HasLen, 0)
		})
	}
}

func TestStart_ConnectionError(t *testing.T) {
	c := qt.New(t)

	for _, startErr := range []error{
		serviceerror.NewUnavailable("connection refused"),
		status.Error(codes.Unavailable, "transport is closing"),
		fmt.Errorf("dialing: %w", status.Error(codes.DeadlineExceeded, "context deadline exceeded")),
	} {
		fc := newFakeClient()
		fc.startErr = startErr
		g := newTestGateway(fc)

		_, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Check(errors.Is(err, errdomain.ErrConnection), qt.IsTrue, qt.Commentf("%v", startErr))
		c.Check(errdomain.Message(err), qt.Equals, "The workflow service is unavailable. Please try again later.")
	}

	fc := newFakeClient()
	fc.startErr = serviceerror.NewInvalidArgument("bad request")
	g := newTestGateway(fc)

	_, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
	c.Check(err, qt.Not(qt.IsNil))
	c.Check(errors.Is(err, errdomain.ErrConnection), qt.IsFalse)
}

func TestStart_Dedup(t *testing.T) {
	c := qt.New(t)

	c.Run("identical requests share a workflow", func(c *qt.C) {
		fc := newFakeClient()
		rdb := newFakeRedis()
		g := newTestGateway(fc, WithDedup(rdb, time.Minute))

		first, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)

		g.newUUID = func() (uuid.UUID, error) { return uuid.NewV4() }
		second, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)

		c.Check(second, qt.DeepEquals, first)
		c.Check(second.RunID, qt.Equals, "run-1")
		c.Check(fc.starts, qt.HasLen, 1)

		// Same content staged again a millisecond later.
		restaged := imageInput()
		restaged.GCSURL = "gs://bucket/ns1/u1/1700000000001-cat.png"
		third, err := g.Start(context.Background(), wfparam.KindImageEmbed, restaged)
		c.Assert(err, qt.IsNil)
		c.Check(third, qt.DeepEquals, first)
		c.Check(fc.starts, qt.HasLen, 1)

		other := imageInput()
		other.Base64Payload = "ZG9n"
		fourth, err := g.Start(context.Background(), wfparam.KindImageEmbed, other)
		c.Assert(err, qt.IsNil)
		c.Check(fourth.WorkflowID, qt.Not(qt.Equals), first.WorkflowID)
		c.Check(fc.starts, qt.HasLen, 2)

		otherTenant := imageInput()
		otherTenant.OrgID = "o2"
		_, err = g.Start(context.Background(), wfparam.KindImageEmbed, otherTenant)
		c.Assert(err, qt.IsNil)
		c.Check(fc.starts, qt.HasLen, 3)
	})

	c.Run("failed workflow isn't reused", func(c *qt.C) {
		for _, st := range []enums.WorkflowExecutionStatus{
			enums.WORKFLOW_EXECUTION_STATUS_FAILED,
			enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
			enums.WORKFLOW_EXECUTION_STATUS_TERMINATED,
			enums.WORKFLOW_EXECUTION_STATUS_CANCELED,
		} {
			fc := newFakeClient()
			rdb := newFakeRedis()
			g := newTestGateway(fc, WithDedup(rdb, time.Minute))

			first, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
			c.Assert(err, qt.IsNil)
			fc.statuses[first.WorkflowID] = st

			g.newUUID = func() (uuid.UUID, error) { return uuid.NewV4() }
			retry, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
			c.Assert(err, qt.IsNil)
			c.Check(retry.WorkflowID, qt.Not(qt.Equals), first.WorkflowID, qt.Commentf("%s", StatusName(st)))
			c.Check(fc.starts, qt.HasLen, 2)

			// The retry now owns the key.
			again, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
			c.Assert(err, qt.IsNil)
			c.Check(again, qt.DeepEquals, retry)
			c.Check(fc.starts, qt.HasLen, 2)
		}
	})

	c.Run("completed workflow is reused", func(c *qt.C) {
		fc := newFakeClient()
		g := newTestGateway(fc, WithDedup(newFakeRedis(), time.Minute))

		first, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		fc.statuses[first.WorkflowID] = enums.WORKFLOW_EXECUTION_STATUS_COMPLETED

		second, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		c.Check(second, qt.DeepEquals, first)
		c.Check(fc.starts, qt.HasLen, 1)
	})

	c.Run("vanished workflow isn't reused", func(c *qt.C) {
		fc := newFakeClient()
		g := newTestGateway(fc, WithDedup(newFakeRedis(), time.Minute))

		first, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		delete(fc.statuses, first.WorkflowID)

		_, err = g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		c.Check(fc.starts, qt.HasLen, 2)
	})

	c.Run("unreachable backend keeps the earlier workflow", func(c *qt.C) {
		fc := newFakeClient()
		g := newTestGateway(fc, WithDedup(newFakeRedis(), time.Minute))

		first, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		fc.describeErr = serviceerror.NewUnavailable("down")

		second, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		c.Check(second, qt.DeepEquals, first)
		c.Check(fc.starts, qt.HasLen, 1)
	})

	c.Run("failed start releases the claim", func(c *qt.C) {
		fc := newFakeClient()
		fc.startErr = serviceerror.NewUnavailable("down")
		rdb := newFakeRedis()
		g := newTestGateway(fc, WithDedup(rdb, time.Minute))

		_, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Check(errors.Is(err, errdomain.ErrConnection), qt.IsTrue)
		c.Check(rdb.data, qt.HasLen, 0)

		fc.startErr = nil
		_, err = g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
		c.Assert(err, qt.IsNil)
		c.Check(fc.starts, qt.HasLen, 1)
	})

	c.Run("redis outage doesn't block starts", func(c *qt.C) {
		fc := newFakeClient()
		rdb := newFakeRedis()
		rdb.err = fmt.Errorf("connection refused")
		g := newTestGateway(fc, WithDedup(rdb, time.Minute))

		for range 2 {
			_, err := g.Start(context.Background(), wfparam.KindImageEmbed, imageInput())
			c.Assert(err, qt.IsNil)
		}
		c.Check(fc.starts, qt.HasLen, 2)
	})

	c.Run("zero window disables dedup", func(c *qt.C) {
		fc := newFakeClient()
		g := newTestGateway(fc, WithDedup(newFakeRedis(), 0))
		c.Check(g.dedup, qt.IsNil)
	})
}

func TestFingerprint(t *testing.T) {
	c := qt.New(t)

	page := func(n int, url, payload string) wfparam.PageInput {
		return wfparam.PageInput{GCSURL: url, Base64Payload: payload, UserID: "u1", Namespace: "ns1", OrgID: "o1", PageNumber: n}
	}
	pdf := func(pages ...wfparam.PageInput) wfparam.PdfEmbedInput {
		return wfparam.PdfEmbedInput{Pages: pages}
	}

	a, err := fingerprint(wfparam.KindPdfEmbed, pdf(page(1, "gs://b/1-p1.png", "cDE="), page(2, "gs://b/1-p2.png", "cDI=")))
	c.Assert(err, qt.IsNil)
	b, err := fingerprint(wfparam.KindPdfEmbed, pdf(page(1, "gs://b/2-p1.png", "cDE="), page(2, "gs://b/2-p2.png", "cDI=")))
	c.Assert(err, qt.IsNil)
	c.Check(a, qt.Equals, b)

	reordered, err := fingerprint(wfparam.KindPdfEmbed, pdf(page(1, "gs://b/1-p1.png", "cDI="), page(2, "gs://b/1-p2.png", "cDE=")))
	c.Assert(err, qt.IsNil)
	c.Check(reordered, qt.Not(qt.Equals), a)

	ptr, err := fingerprint(wfparam.KindImageEmbed, &wfparam.ImageEmbedInput{GCSURL: "gs://x", Base64Payload: "aGVsbG8=", UserID: "u1", Namespace: "ns1", OrgID: "o1"})
	c.Assert(err, qt.IsNil)
	val, err := fingerprint(wfparam.KindImageEmbed, imageInput())
	c.Assert(err, qt.IsNil)
	c.Check(ptr, qt.Equals, val)
	c.Check(val, qt.Matches, "vision-rag:workflow:dedup:[0-9a-f]{64}")
}

func TestGetStatus(t *testing.T) {
	c := qt.New(t)

	fc := newFakeClient()
	fc.statuses["running"] = enums.WORKFLOW_EXECUTION_STATUS_RUNNING
	fc.statuses["done"] = enums.WORKFLOW_EXECUTION_STATUS_COMPLETED
	fc.statuses["failed"] = enums.WORKFLOW_EXECUTION_STATUS_FAILED
	fc.results["done"] = func(valuePtr any) error {
		*(valuePtr.(*any)) = "Image successfully embedded and stored!"
		return nil
	}
	fc.results["failed"] = func(any) error {
		return temporal.NewApplicationError("Unable to embed page 2 of the document. Please try again.", "EmbeddingError", 2)
	}
	g := newTestGateway(fc)

	st, err := g.GetStatus(context.Background(), "running")
	c.Assert(err, qt.IsNil)
	c.Check(st, qt.DeepEquals, &wfparam.WorkflowStatus{WorkflowID: "running", Status: "RUNNING"})

	st, err = g.GetStatus(context.Background(), "done")
	c.Assert(err, qt.IsNil)
	c.Check(st.Status, qt.Equals, "COMPLETED")
	c.Check(st.Result, qt.Equals, "Image successfully embedded and stored!")
	c.Check(st.Error, qt.Equals, "")

	st, err = g.GetStatus(context.Background(), "failed")
	c.Assert(err, qt.IsNil)
	c.Check(st.Status, qt.Equals, "FAILED")
	c.Check(st.Error, qt.Matches, "Unable to embed page 2 of the document.*")
	c.Check(st.Result, qt.IsNil)

	_, err = g.GetStatus(context.Background(), "missing")
	c.Check(errors.Is(err, errdomain.ErrNotFound), qt.IsTrue)

	fc.describeErr = serviceerror.NewUnavailable("down")
	_, err = g.GetStatus(context.Background(), "running")
	c.Check(errors.Is(err, errdomain.ErrConnection), qt.IsTrue)
}

func TestStatusName(t *testing.T) {
	c := qt.New(t)

	c.Check(StatusName(enums.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW), qt.Equals, "CONTINUED_AS_NEW")
	c.Check(StatusName(enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT), qt.Equals, "TIMED_OUT")
	c.Check(StatusName(enums.WORKFLOW_EXECUTION_STATUS_CANCELED), qt.Equals, "CANCELED")
	c.Check(StatusName(enums.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED), qt.Equals, "UNSPECIFIED")
}

func TestSearch(t *testing.T) {
	c := qt.New(t)

	want := wfparam.SearchWorkflowResult{
		Query:        "cat",
		TotalResults: 1,
		Results:      []wfparam.SearchResult{{ID: "a", Score: 0.9, SourceURL: "gs://b/a.png"}},
	}

	fc := newFakeClient()
	fc.results["search-u1-o1-1700000000000-1f2e3d4c"] = func(valuePtr any) error {
		// Round-trip through JSON like the data converter does.
		b, err := json.Marshal(want)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, valuePtr)
	}
	g := newTestGateway(fc)

	got, err := g.Search(context.Background(), wfparam.SearchInput{Query: "cat", Namespace: "ns1", UserID: "u1", OrgID: "o1"})
	c.Assert(err, qt.IsNil)
	c.Check(*got, qt.DeepEquals, want)

	_, err = g.Search(context.Background(), wfparam.SearchInput{Query: "cat"})
	c.Check(errors.Is(err, errdomain.ErrInvalidArgument), qt.IsTrue)
}

func TestGetResult_Failure(t *testing.T) {
	c := qt.New(t)

	fc := newFakeClient()
	fc.results["wf"] = func(any) error {
		return temporal.NewApplicationError("boom", "QueryError")
	}
	g := newTestGateway(fc)

	var out string
	err := g.GetResult(context.Background(), "wf", &out)

	var appErr *temporal.ApplicationError
	c.Assert(errors.As(err, &appErr), qt.IsTrue)
	c.Check(appErr.Type(), qt.Equals, "QueryError")
}

func TestHealth(t *testing.T) {
	c := qt.New(t)

	fc := newFakeClient()
	g := newTestGateway(fc)
	c.Check(g.Health(context.Background()), qt.IsNil)

	fc.healthErr = fmt.Errorf("connection refused")
	c.Check(errors.Is(g.Health(context.Background()), errdomain.ErrConnection), qt.IsTrue)
}
