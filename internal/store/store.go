// Package store persists Submission records across the dispatcher's
// queue/run/terminal lifecycle and answers the transport layer's
// lookups.
package store

import (
	"context"
	"errors"

	"github.com/sandboxrun/engine/internal/types"
)

// ErrNotFound is returned by Get when no submission has the given ID.
var ErrNotFound = errors.New("store: submission not found")

// ErrAlreadyTerminal names the case of a submission whose persisted
// status is already terminal. MemoryStore and GormStore do not return it:
// their MarkTerminal reports that case as (false, nil).
var ErrAlreadyTerminal = errors.New("store: submission is already terminal")

// Store is the persistence boundary (§4.5): every field the transport
// layer or dispatcher needs to read back a submission's state.
type Store interface {
	// Save upserts sub in its entirety (used on submit and on the
	// queued -> running transition).
	Save(ctx context.Context, sub *types.Submission) error

	// Get returns a submission by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*types.Submission, error)

	// GetByToken returns a submission by its public token, or
	// ErrNotFound.
	GetByToken(ctx context.Context, token string) (*types.Submission, error)

	// MarkTerminal atomically transitions sub to a terminal state,
	// persisting every field on sub. It returns (false, nil) instead of
	// an error when the stored status was already terminal, so the
	// caller (the Dispatcher) can decide whether that's worth logging.
	MarkTerminal(ctx context.Context, sub *types.Submission) (bool, error)
}
