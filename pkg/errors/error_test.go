package errors

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"

	errorsx "github.com/instill-ai/x/errors"
)

func TestError_Is(t *testing.T) {
	c := qt.New(t)

	cause := fmt.Errorf("milvus: connection reset")
	err := fmt.Errorf("storing vector: %w", New(KindUpsert, cause).InWorkflow("image-embed"))

	c.Check(errors.Is(err, ErrUpsert), qt.IsTrue)
	c.Check(errors.Is(err, ErrQuery), qt.IsFalse)
	c.Check(errors.Is(err, cause), qt.IsTrue)

	kind, ok := KindOf(err)
	c.Check(ok, qt.IsTrue)
	c.Check(kind, qt.Equals, KindUpsert)

	_, ok = KindOf(cause)
	c.Check(ok, qt.IsFalse)
}

func TestError_Error(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: KindEmbedding},
			want: "EmbeddingError",
		},
		{
			name: "with cause",
			err:  Newf(KindMalformedEmbedding, "vector is empty"),
			want: "MalformedEmbeddingError: vector is empty",
		},
		{
			name: "with page",
			err:  Newf(KindUpsert, "timeout").InWorkflow("pdf-embed").OnPage(2),
			want: "UpsertError (pdf-embed) on page 2: timeout",
		},
	}

	for _, tc := range testCases {
		c.Run(tc.name, func(c *qt.C) {
			c.Check(tc.err.Error(), qt.Equals, tc.want)
		})
	}
}

func TestError_CopiesDoNotAlias(t *testing.T) {
	c := qt.New(t)

	base := Newf(KindUpsert, "boom")
	onPage := base.OnPage(3)

	c.Check(base.PageNumber, qt.Equals, 0)
	c.Check(onPage.PageNumber, qt.Equals, 3)
}

func TestMessage(t *testing.T) {
	c := qt.New(t)

	c.Check(Message(New(KindUpload, fmt.Errorf("gcs: 503"))), qt.Equals, "Unable to upload the file. Please try again.")

	withMsg := errorsx.AddMessage(New(KindQuery, fmt.Errorf("boom")), "Search is temporarily unavailable.")
	c.Check(Message(withMsg), qt.Equals, "Search is temporarily unavailable.")

	c.Check(Message(fmt.Errorf("plain")), qt.Equals, "plain")
}
