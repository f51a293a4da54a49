package worker

import (
	"go.temporal.io/sdk/workflow"

	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
)

// SearchWorkflow embeds a text query and returns the closest vectors of the
// tenant.
func (w *Worker) SearchWorkflow(ctx workflow.Context, param wfparam.SearchInput) (*wfparam.SearchWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	param = param.WithDefaults()
	logger.Info("Starting SearchWorkflow",
		"namespace", param.Namespace,
		"userID", param.UserID,
		"orgID", param.OrgID,
		"topK", param.TopK)

	if err := wfparam.Validate(param); err != nil {
		return nil, invalidInputError(err)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(wfparam.KindSearch))

	activityParam := &SearchActivityParam{
		Query:     param.Query,
		Namespace: param.Namespace,
		UserID:    param.UserID,
		OrgID:     param.OrgID,
		TopK:      param.TopK,
	}

	var results []wfparam.SearchResult
	if err := workflow.ExecuteActivity(ctx, w.SearchActivity, activityParam).Get(ctx, &results); err != nil {
		logger.Error("Failed to search", "error", err)
		return nil, err
	}

	logger.Info("SearchWorkflow completed", "results", len(results))
	return &wfparam.SearchWorkflowResult{
		Results:      results,
		Query:        param.Query,
		TotalResults: len(results),
	}, nil
}

// DeleteVectorsWorkflow deletes vectors owned by a tenant.
func (w *Worker) DeleteVectorsWorkflow(ctx workflow.Context, param wfparam.DeleteVectorsInput) (*wfparam.DeleteVectorsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting DeleteVectorsWorkflow",
		"namespace", param.Namespace,
		"ids", len(param.IDs))

	if err := wfparam.Validate(param); err != nil {
		return nil, invalidInputError(err)
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(wfparam.KindDeleteVectors))

	activityParam := &DeleteVectorsActivityParam{
		IDs:       param.IDs,
		Namespace: param.Namespace,
		UserID:    param.UserID,
		OrgID:     param.OrgID,
	}

	var deleted int
	if err := workflow.ExecuteActivity(ctx, w.DeleteVectorsActivity, activityParam).Get(ctx, &deleted); err != nil {
		logger.Error("Failed to delete vectors", "error", err)
		return nil, err
	}

	logger.Info("DeleteVectorsWorkflow completed", "deleted", deleted)
	return &wfparam.DeleteVectorsResult{Deleted: deleted}, nil
}
