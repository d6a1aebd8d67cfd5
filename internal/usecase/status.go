package usecase

import (
	"time"

	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/repository"
)

// State is the lifecycle stage of an attempt as seen by pollers.
type State string

const (
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateSuperseded State = "superseded"
)

// AttemptStatus is the document published for every attempt.
type AttemptStatus struct {
	AttemptID  string              `json:"attempt_id"`
	SessionID  string              `json:"session_id,omitempty"`
	State      State               `json:"state"`
	Endpoint   string              `json:"endpoint,omitempty"`
	Outcome    *prediction.Outcome `json:"outcome,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

func statusOf(attempt *Attempt, state State) *AttemptStatus {
	status := &AttemptStatus{
		AttemptID: attempt.ID,
		SessionID: attempt.Session,
		State:     state,
		Endpoint:  attempt.Endpoint,
		StartedAt: attempt.StartedAt,
	}
	if state != StateProcessing {
		outcome := attempt.Outcome
		finished := attempt.FinishedAt
		status.Outcome = &outcome
		status.FinishedAt = &finished
	}
	return status
}

func finalState(attempt *Attempt) State {
	switch {
	case attempt.Superseded:
		return StateSuperseded
	case attempt.Outcome.OK():
		return StateSucceeded
	default:
		return StateFailed
	}
}

func statusFromLog(log *repository.PredictionLog) *AttemptStatus {
	var outcome prediction.Outcome
	if log.Outcome == "success" && log.Days != nil {
		outcome.Success = &prediction.Success{Days: *log.Days, Message: log.Message}
	} else {
		outcome.Failure = &prediction.Failure{
			Kind:       prediction.ErrorKind(log.Outcome),
			Message:    log.Message,
			StatusCode: log.StatusCode,
		}
	}

	state := StateFailed
	switch {
	case log.Superseded:
		state = StateSuperseded
	case outcome.OK():
		state = StateSucceeded
	}

	finished := log.CreatedAt
	return &AttemptStatus{
		AttemptID:  log.AttemptID,
		SessionID:  log.SessionID,
		State:      state,
		Outcome:    &outcome,
		StartedAt:  log.CreatedAt.Add(-time.Duration(log.LatencyMs) * time.Millisecond),
		FinishedAt: &finished,
	}
}
