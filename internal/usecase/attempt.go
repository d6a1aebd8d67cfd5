package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/endpoint"
	"github.com/example/bakeready/internal/logging"
	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/predictclient"
	"github.com/example/bakeready/internal/repository"
	"github.com/example/bakeready/internal/transient"
)

var (
	// ErrSuperseded is the cancellation cause of an attempt replaced by a newer
	// attempt of the same session.
	ErrSuperseded = errors.New("attempt superseded by a newer upload")
	// ErrNotFound is returned for unknown attempt identifiers.
	ErrNotFound = errors.New("attempt not found")
	// ErrMetricsUnavailable is returned when no attempt log is configured.
	ErrMetricsUnavailable = errors.New("attempt log is not configured")

	errUnsupportedValue = errors.New("unsupported cache value type")
)

// DefaultStatusTTL is how long attempt status documents are kept.
const DefaultStatusTTL = 10 * time.Minute

// Preprocessor prepares an image for upload. It must never fail.
type Preprocessor interface {
	Process(img prediction.Image) prediction.Image
}

// PredictionClient submits images to the inference service.
type PredictionClient interface {
	Submit(ctx context.Context, img prediction.Image, ep endpoint.Config) prediction.Outcome
	Health(ctx context.Context, ep endpoint.Config) (*predictclient.ServiceHealth, error)
}

// EndpointResolver picks the inference service base URL for a request host.
type EndpointResolver interface {
	Resolve(host string) endpoint.Config
}

// AttemptRepository defines the persistence operations needed by the use case.
type AttemptRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	FindByAttemptID(ctx context.Context, attemptID string) (*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.Aggregation, error)
}

// Archiver keeps a copy of submitted images.
type Archiver interface {
	Store(ctx context.Context, attemptID string, img prediction.Image) error
}

// AttemptRequest is one image submitted by an acquirer.
type AttemptRequest struct {
	// Session groups attempts of one user; a new attempt replaces the
	// in-flight attempt of the same session. Empty means untracked.
	Session string
	// Host is the host the acquirer was reached on, used by endpoint resolution.
	Host  string
	Image prediction.Image
}

// Attempt is the terminal state of one preprocess, submit and classify cycle.
type Attempt struct {
	ID         string
	Session    string
	Endpoint   string
	Outcome    prediction.Outcome
	Resized    bool
	Superseded bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// AttemptService encapsulates the upload pipeline.
type AttemptService struct {
	preprocessor Preprocessor
	client       PredictionClient
	resolver     EndpointResolver
	cache        Cache
	repo         AttemptRepository
	archiver     Archiver
	tracker      *sessionTracker
	logger       *zap.Logger
	policy       transient.Policy
	statusTTL    time.Duration
}

// Option customises an AttemptService.
type Option func(*AttemptService)

// WithRepository enables the persistent attempt log.
func WithRepository(repo AttemptRepository) Option {
	return func(s *AttemptService) { s.repo = repo }
}

// WithArchiver enables archiving of submitted images.
func WithArchiver(archiver Archiver) Option {
	return func(s *AttemptService) { s.archiver = archiver }
}

// WithStatusTTL overrides how long status documents live.
func WithStatusTTL(ttl time.Duration) Option {
	return func(s *AttemptService) { s.statusTTL = ttl }
}

// NewAttemptService constructs a new use case instance.
func NewAttemptService(preprocessor Preprocessor, client PredictionClient, resolver EndpointResolver, cache Cache, logger *zap.Logger, opts ...Option) *AttemptService {
	s := &AttemptService{
		preprocessor: preprocessor,
		client:       client,
		resolver:     resolver,
		cache:        cache,
		tracker:      newSessionTracker(),
		logger:       logger.Named("attempt_usecase"),
		policy:       transient.DefaultPolicy,
		statusTTL:    DefaultStatusTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one attempt. Status publication, logging and archiving are
// advisory; their failures never change the returned outcome.
func (s *AttemptService) Run(ctx context.Context, req AttemptRequest) *Attempt {
	attempt := &Attempt{
		ID:        uuid.NewString(),
		Session:   req.Session,
		StartedAt: time.Now().UTC(),
	}
	opLogger := logging.WithOperation(s.logger, "usecase.run_attempt", attempt.ID).With(zap.String("session_id", req.Session))

	attemptCtx, finish := s.tracker.begin(ctx, req.Session, attempt.ID)
	defer finish()
	attemptCtx = logging.ContextWithAttemptID(attemptCtx, attempt.ID)

	// Bookkeeping outlives cancellation so superseded attempts are still recorded.
	bookkeeping := context.WithoutCancel(attemptCtx)
	if req.Session != "" {
		if err := transient.Do(bookkeeping, s.logger, s.policy, "cache.set.latest", attempt.ID, func() error {
			return s.cache.Set(bookkeeping, latestKey(req.Session), attempt.ID, s.statusTTL)
		}); err != nil {
			opLogger.Warn("failed to record latest attempt", zap.Error(err))
		}
	}
	s.publish(bookkeeping, opLogger, statusOf(attempt, StateProcessing))

	processed := s.preprocessor.Process(req.Image)
	attempt.Resized = processed.Size != req.Image.Size || !bytes.Equal(processed.Data, req.Image.Data)

	ep := s.resolver.Resolve(req.Host)
	attempt.Endpoint = ep.BaseURL

	attempt.Outcome = s.client.Submit(attemptCtx, processed, ep)
	attempt.Superseded = errors.Is(context.Cause(attemptCtx), ErrSuperseded)
	attempt.FinishedAt = time.Now().UTC()

	opLogger.Info("attempt finished",
		zap.String("outcome", attempt.Outcome.Label()),
		zap.Bool("resized", attempt.Resized),
		zap.Bool("superseded", attempt.Superseded),
		zap.String("endpoint", attempt.Endpoint),
		zap.Duration("latency", attempt.FinishedAt.Sub(attempt.StartedAt)))

	s.publish(bookkeeping, opLogger, statusOf(attempt, finalState(attempt)))
	s.saveLog(bookkeeping, opLogger, attempt, processed)
	s.archive(bookkeeping, opLogger, attempt, processed)

	return attempt
}

// IsCurrent reports whether attemptID is the latest attempt of session.
// Callers use it to drop results of attempts that have since been replaced.
// Attempts begun in this process are ordered by the session tracker; the
// status store only answers for sessions this process has not seen.
func (s *AttemptService) IsCurrent(ctx context.Context, session, attemptID string) bool {
	if session == "" {
		return true
	}
	if latest, ok := s.tracker.latestOf(session); ok {
		return latest == attemptID
	}
	latest, err := s.cache.Get(ctx, latestKey(session))
	if err == nil {
		return latest == attemptID
	}
	if !errors.Is(err, redis.Nil) {
		logging.WithOperation(s.logger, "usecase.is_current", attemptID).Warn("failed to read latest attempt", zap.Error(err))
	}
	return true
}

// GetStatus returns the published status of an attempt, falling back to the
// attempt log once the status has expired.
func (s *AttemptService) GetStatus(ctx context.Context, attemptID string) (*AttemptStatus, error) {
	opLogger := logging.WithOperation(s.logger, "usecase.get_status", attemptID)

	var (
		cached string
		miss   bool
	)
	err := transient.Do(ctx, s.logger, s.policy, "cache.get.status", attemptID, func() error {
		value, err := s.cache.Get(ctx, statusKey(attemptID))
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err != nil:
		opLogger.Warn("failed to read status", zap.Error(err))
	case !miss:
		var status AttemptStatus
		if err := json.Unmarshal([]byte(cached), &status); err == nil {
			return &status, nil
		}
		opLogger.Warn("failed to decode cached status", zap.Error(err))
	}

	if s.repo == nil {
		return nil, ErrNotFound
	}
	log, err := s.repo.FindByAttemptID(ctx, attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return statusFromLog(log), nil
}

// Health reports the health of the inference service reachable from host.
func (s *AttemptService) Health(ctx context.Context, host string) (*predictclient.ServiceHealth, error) {
	return s.client.Health(ctx, s.resolver.Resolve(host))
}

func (s *AttemptService) publish(ctx context.Context, opLogger *zap.Logger, status *AttemptStatus) {
	serialized, err := json.Marshal(status)
	if err != nil {
		opLogger.Error("failed to serialize attempt status", zap.Error(err))
		return
	}
	operation := "cache.set." + string(status.State)
	if err := transient.Do(ctx, s.logger, s.policy, operation, status.AttemptID, func() error {
		return s.cache.Set(ctx, statusKey(status.AttemptID), string(serialized), s.statusTTL)
	}); err != nil {
		opLogger.Warn("failed to publish attempt status", zap.Error(err), zap.String("state", string(status.State)))
	}
}

func (s *AttemptService) saveLog(ctx context.Context, opLogger *zap.Logger, attempt *Attempt, submitted prediction.Image) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveLog(ctx, newPredictionLog(attempt, submitted)); err != nil {
		opLogger.Warn("failed to persist attempt log", zap.Error(err))
	}
}

func (s *AttemptService) archive(ctx context.Context, opLogger *zap.Logger, attempt *Attempt, submitted prediction.Image) {
	if s.archiver == nil || len(submitted.Data) == 0 {
		return
	}
	if err := s.archiver.Store(ctx, attempt.ID, submitted); err != nil {
		opLogger.Warn("failed to archive submitted image", zap.Error(logging.NewOperationError("archive.store", attempt.ID, err)))
	}
}

func newPredictionLog(attempt *Attempt, submitted prediction.Image) *repository.PredictionLog {
	hash := sha1.Sum(submitted.Data)
	log := &repository.PredictionLog{
		AttemptID:  attempt.ID,
		SessionID:  attempt.Session,
		Outcome:    attempt.Outcome.Label(),
		SHA1Hash:   hex.EncodeToString(hash[:]),
		ImageBytes: submitted.Size,
		Resized:    attempt.Resized,
		Superseded: attempt.Superseded,
		LatencyMs:  attempt.FinishedAt.Sub(attempt.StartedAt).Milliseconds(),
		CreatedAt:  attempt.FinishedAt,
	}
	if success := attempt.Outcome.Success; success != nil {
		days := success.Days
		log.Days = &days
		log.Message = success.Message
	}
	if failure := attempt.Outcome.Failure; failure != nil {
		log.Message = failure.Message
		log.StatusCode = failure.StatusCode
	}
	return log
}

func statusKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s", attemptID)
}

func latestKey(session string) string {
	return fmt.Sprintf("session:%s:latest", session)
}
