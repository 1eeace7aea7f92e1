package feed

import (
	"context"

	"github.com/google/uuid"

	"mangafeed/pkg/models"
)

// Scope binds one fan-out batch to a cancellable unit of work. Exactly
// one scope is current at any time; starting a new batch cancels the old
// scope, and any late-arriving result of a cancelled scope is discarded
// before it can touch shared state.
//
// The per-section result accumulator lives on the scope, so supersession
// atomically abandons the old batch's partial results instead of merging
// them.
type Scope struct {
	ID     string
	ctx    context.Context
	cancel context.CancelFunc

	results map[string][]models.Manga

	settled chan struct{}
}

func newScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		ID:      uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
		results: make(map[string][]models.Manga),
		settled: make(chan struct{}),
	}
}

func (s *Scope) Context() context.Context { return s.ctx }

// Alive reports whether the scope may still publish. Checked immediately
// before every shared-state mutation, not at submission time.
func (s *Scope) Alive() bool { return s.ctx.Err() == nil }

func (s *Scope) Cancel() { s.cancel() }

// Wait blocks until the batch has settled: every fetch has either
// published, failed, or been cancelled. Sections publish incrementally
// long before this returns.
func (s *Scope) Wait() { <-s.settled }
