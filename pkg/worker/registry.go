package worker

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
)

// Registerer is implemented by Temporal workers and by the test workflow
// environment.
type Registerer interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

// Registry maps workflow and activity names to their handlers. Names are
// explicit so renaming a method can't silently change what the gateway
// starts.
type Registry struct {
	Workflows  map[string]any
	Activities map[string]any
}

// Registry returns every workflow and activity the worker serves.
func (w *Worker) Registry() Registry {
	return Registry{
		Workflows: map[string]any{
			string(wfparam.KindImageEmbed):    w.ImageEmbedWorkflow,
			string(wfparam.KindPdfEmbed):      w.PdfEmbedWorkflow,
			string(wfparam.KindSearch):        w.SearchWorkflow,
			string(wfparam.KindDeleteVectors): w.DeleteVectorsWorkflow,
		},
		Activities: map[string]any{
			"EmbedImageActivity":    w.EmbedImageActivity,
			"EmbedPdfPageActivity":  w.EmbedPdfPageActivity,
			"SearchActivity":        w.SearchActivity,
			"DeleteVectorsActivity": w.DeleteVectorsActivity,
		},
	}
}

// Register registers every handler of the registry on r.
func (reg Registry) Register(r Registerer) {
	for name, fn := range reg.Workflows {
		r.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
	}
	for name, fn := range reg.Activities {
		r.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
}

// activityOptions returns the timeout and retry policy of the activities a
// workflow kind schedules.
func activityOptions(kind wfparam.Kind) workflow.ActivityOptions {
	timeout, interval := SearchTimeout, RetryInitialIntervalQuery
	switch kind {
	case wfparam.KindImageEmbed:
		timeout, interval = EmbedImageTimeout, RetryInitialIntervalEmbed
	case wfparam.KindPdfEmbed:
		timeout, interval = EmbedPdfPageTimeout, RetryInitialIntervalEmbed
	case wfparam.KindDeleteVectors:
		timeout = DeleteTimeout
	}

	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    interval,
			BackoffCoefficient: RetryBackoffCoefficient,
			MaximumAttempts:    RetryMaximumAttempts,
		},
	}
}
