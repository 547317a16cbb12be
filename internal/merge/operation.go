// Package merge runs merge operations end to end: it sanitizes the caller's
// references, resolves options, inspects every input, builds the timeline and
// hands it to the configured export backend.
package merge

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/vidmerge/internal/mergeerr"
)

// State is the lifecycle state of one merge operation.
type State string

const (
	StateIdle             State = "IDLE"
	StateSanitizing       State = "SANITIZING"
	StateResolvingOptions State = "RESOLVING_OPTIONS"
	StateInspecting       State = "INSPECTING"
	StateExporting        State = "EXPORTING"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
	StateCancelled        State = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid operation state transition")

var validTransitions = map[State][]State{
	StateIdle:             {StateSanitizing},
	StateSanitizing:       {StateResolvingOptions, StateFailed},
	StateResolvingOptions: {StateInspecting, StateFailed},
	StateInspecting:       {StateExporting, StateFailed},
	StateExporting:        {StateCompleted, StateFailed, StateCancelled},
	StateCompleted:        {},
	StateFailed:           {},
	StateCancelled:        {},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is final.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// StateFunc observes state changes of an operation.
type StateFunc func(State)

// Operation tracks one merge call. The zero value is not usable; create one
// with NewOperation.
type Operation struct {
	mu        sync.RWMutex
	state     State
	err       error
	changedAt time.Time
	onChange  StateFunc
}

// NewOperation creates an operation in StateIdle. onChange, if not nil, is
// called synchronously after every successful transition.
func NewOperation(onChange StateFunc) *Operation {
	return &Operation{state: StateIdle, changedAt: time.Now(), onChange: onChange}
}

// TransitionTo moves the operation to state.
func (o *Operation) TransitionTo(state State) error {
	o.mu.Lock()
	if !canTransition(o.state, state) {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	o.state = state
	o.changedAt = time.Now()
	fn := o.onChange
	o.mu.Unlock()

	if fn != nil {
		fn(state)
	}
	return nil
}

// finish moves the operation to its terminal state for err. Cancellation is
// only recognised once exporting has begun.
func (o *Operation) finish(err error) {
	if err == nil {
		_ = o.TransitionTo(StateCompleted)
		return
	}

	o.mu.Lock()
	if o.state.IsTerminal() {
		o.mu.Unlock()
		return
	}
	o.err = err
	exporting := o.state == StateExporting
	o.mu.Unlock()

	if exporting && errors.Is(err, mergeerr.ErrExportCancelled) {
		_ = o.TransitionTo(StateCancelled)
		return
	}
	_ = o.TransitionTo(StateFailed)
}

// State returns the current state.
func (o *Operation) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Err returns the failure cause of a Failed or Cancelled operation.
func (o *Operation) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.err
}

// ChangedAt returns the time of the last transition.
func (o *Operation) ChangedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.changedAt
}
