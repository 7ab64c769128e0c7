package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a stage in the per-request lifecycle:
//
//	Received → Masked → {Restore → Invoke → ReMask}* → Finalized → PurgeScheduled
//
// The restore/invoke/remask cycle is tracked per tool call; the session
// holds StateInvoking while any cycles are in flight. Failed marks a
// session that hit a fail-closed condition before finalizing.
type State int

const (
	StateReceived State = iota
	StateMasked
	StateInvoking
	StateFinalized
	StatePurgeScheduled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateMasked:
		return "masked"
	case StateInvoking:
		return "invoking"
	case StateFinalized:
		return "finalized"
	case StatePurgeScheduled:
		return "purge_scheduled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions encodes the state machine. Invoking→Invoking covers
// repeated tool-call cycles.
var validTransitions = map[State][]State{
	StateReceived:  {StateMasked, StateFailed},
	StateMasked:    {StateInvoking, StateFinalized, StateFailed},
	StateInvoking:  {StateInvoking, StateFinalized, StateFailed},
	StateFinalized: {StatePurgeScheduled},
}

// Session scopes placeholder mappings to one request lifecycle.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	state State
	steps int // tool calls consumed against the step cap
}

// NewSession creates a session in StateReceived with a fresh identifier.
func NewSession() *Session {
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		state:     StateReceived,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to the target state, rejecting moves the
// state machine does not allow.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s → %s", s.state, to)
}

// consumeSteps reserves n tool-call steps against the cap, returning how
// many were granted.
func (s *Session) consumeSteps(n, cap int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := cap - s.steps
	if remaining <= 0 {
		return 0
	}
	if n > remaining {
		n = remaining
	}
	s.steps += n
	return n
}
