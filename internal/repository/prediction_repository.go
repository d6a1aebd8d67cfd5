package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/bakeready/internal/transient"
)

// ErrNotFound is returned when no attempt log matches.
var ErrNotFound = errors.New("prediction log not found")

// PredictionLog records one finished attempt.
type PredictionLog struct {
	ID         uint      `gorm:"primaryKey"`
	AttemptID  string    `gorm:"column:attempt_id;uniqueIndex;size:64"`
	SessionID  string    `gorm:"column:session_id;index;size:128"`
	Outcome    string    `gorm:"column:outcome;size:32"`
	Days       *int      `gorm:"column:days"`
	Message    string    `gorm:"column:message;type:text"`
	StatusCode int       `gorm:"column:status_code"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	ImageBytes int64     `gorm:"column:image_bytes"`
	Resized    bool      `gorm:"column:resized"`
	Superseded bool      `gorm:"column:superseded"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// Aggregation summarises the attempt log.
type Aggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageDays      float64
	AverageLatencyMs float64
}

// aggregateRow receives AggregateMetrics; averages are NULL over no rows.
type aggregateRow struct {
	TotalCount       int64
	SuccessCount     int64
	AverageDays      *float64
	AverageLatencyMs *float64
}

// PredictionRepository persists attempt logs with gorm.
type PredictionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy transient.Policy
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:     db,
		logger: logger.Named("prediction_repository"),
		policy: transient.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
}

// SaveLog persists an attempt log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return transient.Do(ctx, r.logger, r.policy, "repository.save_log", log.AttemptID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByAttemptID retrieves the log of one attempt.
func (r *PredictionRepository) FindByAttemptID(ctx context.Context, attemptID string) (*PredictionLog, error) {
	var (
		log   PredictionLog
		found bool
	)
	err := transient.Do(ctx, r.logger, r.policy, "repository.find_by_attempt_id", attemptID, func() error {
		result := r.db.WithContext(ctx).Where("attempt_id = ?", attemptID).Limit(1).Find(&log)
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &log, nil
}

// AggregateMetrics computes totals, success counts and averages over all logs.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*Aggregation, error) {
	var row aggregateRow
	err := transient.Do(ctx, r.logger, r.policy, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select(`COUNT(*) AS total_count,
				COUNT(*) FILTER (WHERE outcome = 'success') AS success_count,
				AVG(days) FILTER (WHERE outcome = 'success') AS average_days,
				AVG(latency_ms) AS average_latency_ms`).
			Find(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &Aggregation{TotalCount: row.TotalCount, SuccessCount: row.SuccessCount}
	if row.AverageDays != nil {
		agg.AverageDays = *row.AverageDays
	}
	if row.AverageLatencyMs != nil {
		agg.AverageLatencyMs = *row.AverageLatencyMs
	}
	return agg, nil
}
