package cache

import (
	"context"
	"time"

	"localsim/backend/internal/domain"
)

// ReportCache holds closure reports by shift id. Reports are write-once, so
// entries never need invalidation.
type ReportCache interface {
	Get(ctx context.Context, shiftID string) (*domain.ClosureReport, bool, error)
	Set(ctx context.Context, report *domain.ClosureReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ClosureReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ *domain.ClosureReport, _ time.Duration) error {
	return nil
}

func reportKey(shiftID string) string {
	return "closure-report:" + shiftID
}
