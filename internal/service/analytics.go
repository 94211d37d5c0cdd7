package service

import (
	"context"
	"time"

	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/repository"
)

// AnalyticsService summarizes admission decisions and archived usage for
// the admin plane.
type AnalyticsService struct {
	logs  *repository.AdmissionLogRepository
	usage *repository.UsageRepository
}

func NewAnalyticsService(logs *repository.AdmissionLogRepository, usage *repository.UsageRepository) *AnalyticsService {
	return &AnalyticsService{
		logs:  logs,
		usage: usage,
	}
}

// Holds admission analytics for a time range
type AdmissionSummary struct {
	TotalDecisions     int64                    `json:"total_decisions"`
	Allowed            int64                    `json:"allowed"`
	RateLimited        int64                    `json:"rate_limited"`
	QuotaExceeded      int64                    `json:"quota_exceeded"`
	DenialRate         float64                  `json:"denial_rate"`
	TopEndpointClasses []map[string]interface{} `json:"top_endpoint_classes"`
	ByTier             []map[string]interface{} `json:"by_tier"`
}

// Retrieves the admission summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AdmissionSummary, error) {
	summary := &AdmissionSummary{}

	total, err := s.logs.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalDecisions = total

	if total == 0 {
		return summary, nil
	}

	allowed, err := s.logs.CountByDecision(ctx, "allowed", from, to)
	if err != nil {
		return nil, err
	}
	summary.Allowed = allowed

	rateLimited, err := s.logs.CountByDecision(ctx, "rate_limited", from, to)
	if err != nil {
		return nil, err
	}
	summary.RateLimited = rateLimited

	quotaExceeded, err := s.logs.CountByDecision(ctx, "quota_exceeded", from, to)
	if err != nil {
		return nil, err
	}
	summary.QuotaExceeded = quotaExceeded

	summary.DenialRate = (float64(rateLimited+quotaExceeded) / float64(total)) * 100

	topClasses, err := s.logs.TopEndpointClasses(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopEndpointClasses = topClasses

	byTier, err := s.logs.CountByTier(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.ByTier = byTier

	return summary, nil
}

// Retrieves committed usage totals per feature for one billing period
func (s *AnalyticsService) GetUsageTotals(ctx context.Context, period string) (map[string]int64, error) {
	return s.usage.TotalsByFeature(ctx, period)
}

// Retrieves raw admission decisions for a time range with pagination
func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdmissionLog, error) {
	return s.logs.FindByTimeRange(ctx, from, to, limit, offset)
}
