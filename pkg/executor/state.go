package executor

import (
	"sync"

	"github.com/rs/zerolog"
)

// State is a point in the lifecycle of one supervised child process.
//
//	Pending -> SpawnFailed
//	Pending -> Spawned -> Running -> Completed
//	                              -> TimedOut  -> Killed -> Reaped
//	                              -> Cancelled -> Killed -> Reaped
type State int

const (
	StatePending State = iota
	StateSpawnFailed
	StateSpawned
	StateRunning
	StateCompleted
	StateTimedOut
	StateCancelled
	StateKilled
	StateReaped
)

var stateNames = map[State]string{
	StatePending:     "pending",
	StateSpawnFailed: "spawn_failed",
	StateSpawned:     "spawned",
	StateRunning:     "running",
	StateCompleted:   "completed",
	StateTimedOut:    "timed_out",
	StateCancelled:   "cancelled",
	StateKilled:      "killed",
	StateReaped:      "reaped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// validTransitions lists the successors allowed for each state.
var validTransitions = map[State][]State{
	StatePending:   {StateSpawned, StateSpawnFailed},
	StateSpawned:   {StateRunning},
	StateRunning:   {StateCompleted, StateTimedOut, StateCancelled},
	StateTimedOut:  {StateKilled},
	StateCancelled: {StateKilled},
	StateKilled:    {StateReaped},
}

// supervision tracks the state of a single child. Transitions may arrive from
// the os/exec context watcher goroutine, hence the mutex.
type supervision struct {
	mu      sync.Mutex
	state   State
	history []State
	logger  zerolog.Logger
}

func newSupervision(logger zerolog.Logger) *supervision {
	return &supervision{
		state:   StatePending,
		history: []State{StatePending},
		logger:  logger,
	}
}

// transition moves to the next state. Illegal transitions are ignored and
// reported, so a late signal can never rewind a finished process.
func (s *supervision) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, next := range validTransitions[s.state] {
		if next == to {
			s.logger.Debug().
				Str("from", s.state.String()).
				Str("to", to.String()).
				Msg("Process state change")
			s.state = to
			s.history = append(s.history, to)
			return true
		}
	}

	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", to.String()).
		Msg("Ignoring process state change")
	return false
}

func (s *supervision) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// reached reports whether the process passed through the given state.
func (s *supervision) reached(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.history {
		if h == state {
			return true
		}
	}
	return false
}

func (s *supervision) path() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}
