package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/instill-ai/vision-rag-backend/pkg/embedding"
)

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

const healthTimeout = 5 * time.Second

// HealthReport tells whether each backend answered.
type HealthReport struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
}

// Healthy reports whether every backend answered.
func (r *HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

// Health checks the workflow backend, the vector store and the embedding
// provider concurrently. Unconfigured backends are left out of the report.
func (s *service) Health(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	checks := map[string]func(context.Context) error{
		"temporal": s.gateway.Health,
	}
	if s.store != nil {
		checks["vectorstore"] = s.store.Health
	}
	if s.embedder != nil {
		checks["embedding"] = func(ctx context.Context) error {
			return embedding.Health(ctx, s.embedder)
		}
	}

	results := make(map[string]bool, len(checks))
	ok := make([]bool, 0, len(checks))
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
		ok = append(ok, false)
	}

	var g errgroup.Group
	for i, name := range names {
		check := checks[name]
		g.Go(func() error {
			if err := check(ctx); err != nil {
				s.log.Warn("Health check failed", zap.String("service", name), zap.Error(err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{Status: HealthHealthy, Services: results}
	for i, name := range names {
		results[name] = ok[i]
		if !ok[i] {
			report.Status = HealthDegraded
		}
	}
	return report
}
