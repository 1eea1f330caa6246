package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

var (
	// ErrInvalidTransition is returned when a queue entry cannot move to the
	// requested status from its current one.
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrAlreadyQueued rejects an enqueue while the same requester already has
	// a pending or processing entry for the dataset.
	ErrAlreadyQueued = errors.New("import already queued")
	// ErrAlreadyImported rejects an enqueue for a dataset that already has a
	// completed or in-flight import result.
	ErrAlreadyImported = errors.New("dataset already imported")
	// ErrInvalidPriority rejects unknown priority values.
	ErrInvalidPriority = errors.New("invalid priority")
)

// CancelledMessage is recorded on entries cancelled by an administrator.
const CancelledMessage = "Cancelled by administrator"

var transitions = map[model.QueueStatus][]model.QueueStatus{
	model.StatusPending:    {model.StatusProcessing, model.StatusCancelled},
	model.StatusProcessing: {model.StatusCompleted, model.StatusFailed},
	model.StatusFailed:     {model.StatusPending},
}

// CanTransition reports whether an entry may move from one status to another.
func CanTransition(from, to model.QueueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(req *model.ImportRequest, to model.QueueStatus, reason string) error {
	if !CanTransition(req.Status, to) {
		return fmt.Errorf("%w: %s (import %s is %s)", ErrInvalidTransition, reason, req.ID, req.Status)
	}
	req.Status = to
	return nil
}

// Start moves a pending entry to processing.
func Start(req *model.ImportRequest, now time.Time) error {
	if err := transition(req, model.StatusProcessing, "only pending imports can start"); err != nil {
		return err
	}
	req.StartedAt = &now
	return nil
}

// Complete marks a processing entry as completed.
func Complete(req *model.ImportRequest, now time.Time) error {
	if err := transition(req, model.StatusCompleted, "only processing imports can complete"); err != nil {
		return err
	}
	req.CompletedAt = &now
	return nil
}

// Fail marks a processing entry as failed with msg.
func Fail(req *model.ImportRequest, msg string, now time.Time) error {
	if err := transition(req, model.StatusFailed, "only processing imports can fail"); err != nil {
		return err
	}
	req.CompletedAt = &now
	req.ErrorMessage = msg
	return nil
}

// Cancel moves a pending entry to cancelled.
func Cancel(req *model.ImportRequest, now time.Time) error {
	if err := transition(req, model.StatusCancelled, "only pending imports can be cancelled"); err != nil {
		return err
	}
	req.CompletedAt = &now
	req.ErrorMessage = CancelledMessage
	return nil
}

// Retry moves a failed entry back to pending and clears its run state.
func Retry(req *model.ImportRequest) error {
	if err := transition(req, model.StatusPending, "only failed imports can be retried"); err != nil {
		return err
	}
	Reset(req)
	return nil
}

// Reset clears the run state of an entry without checking its status. It is
// used by diagnosis, which may recover entries the state machine would not.
func Reset(req *model.ImportRequest) {
	req.Status = model.StatusPending
	req.StartedAt = nil
	req.CompletedAt = nil
	req.ErrorMessage = ""
}
