package usecase

import "context"

// MetricsSummary represents aggregated attempt insights.
type MetricsSummary struct {
	TotalAttempts      int64   `json:"total_attempts"`
	SuccessfulAttempts int64   `json:"successful_attempts"`
	SuccessRate        float64 `json:"success_rate"`
	AverageDays        float64 `json:"average_days_until_bake_ready"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates attempt metrics from the persisted log.
func (s *AttemptService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if s.repo == nil {
		return nil, ErrMetricsUnavailable
	}
	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:      aggregation.TotalCount,
		SuccessfulAttempts: aggregation.SuccessCount,
		AverageDays:        aggregation.AverageDays,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
