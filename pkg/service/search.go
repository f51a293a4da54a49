package service

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/instill-ai/vision-rag-backend/pkg/vectorstore"

	errdomain "github.com/instill-ai/vision-rag-backend/pkg/errors"
	wfparam "github.com/instill-ai/vision-rag-backend/pkg/temporal"
	errorsx "github.com/instill-ai/x/errors"
)

// Search runs a similarity search for the tenant and waits for its results.
func (s *service) Search(ctx context.Context, input wfparam.SearchInput) (*wfparam.SearchWorkflowResult, error) {
	tokens := s.countTokens(input.Query)
	if s.maxQueryTokens > 0 && tokens > s.maxQueryTokens {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: query has %d tokens, limit is %d", errdomain.ErrInvalidArgument, tokens, s.maxQueryTokens),
			fmt.Sprintf("The query is too long. Please keep it under %d tokens.", s.maxQueryTokens),
		)
	}

	s.log.Debug("Searching",
		zap.String("namespace", input.Namespace),
		zap.Int("queryTokens", tokens),
		zap.Int("topK", input.TopK))

	return s.gateway.Search(ctx, input)
}

// EstimateTokenCount estimates the token count of a text with the GPT-4
// tokenizer. Falls back to ~4 characters per token when the tokenizer can't
// be loaded.
func EstimateTokenCount(text string) int {
	tkm, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		return len(text) / 4
	}

	return len(tkm.Encode(text, nil, nil))
}

// Stats reports how many vectors are indexed, for one namespace or for the
// whole index when namespace is empty.
func (s *service) Stats(ctx context.Context, namespace string) (*vectorstore.Stats, error) {
	if s.store == nil {
		return nil, errdomain.Newf(errdomain.KindConnection, "vector store isn't configured")
	}

	stats, err := s.store.Stats(ctx, namespace)
	if err != nil {
		return nil, errorsx.AddMessage(
			errdomain.New(errdomain.KindQuery, fmt.Errorf("reading index statistics: %w", err)),
			"Unable to read the index statistics. Please try again later.",
		)
	}
	return stats, nil
}
