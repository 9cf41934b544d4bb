package rebuild

import (
	"fmt"
	"strings"
)

// State is a rebuild run's position in its lifecycle.
type State string

// Rebuild states. DONE and FAILED are terminal for a run; the next run
// starts over from RESETTING.
const (
	StateIdle      State = "IDLE"
	StateResetting State = "RESETTING"
	StateReplaying State = "REPLAYING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

var transitions = map[State][]State{
	StateIdle:      {StateResetting},
	StateResetting: {StateReplaying, StateFailed},
	StateReplaying: {StateDone, StateFailed},
	StateDone:      {StateResetting},
	StateFailed:    {StateResetting},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Code is the numeric form published as a metric.
func (s State) Code() int {
	switch s {
	case StateResetting:
		return 1
	case StateReplaying:
		return 2
	case StateDone:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Scope selects the archived sessions a rebuild replays.
type Scope struct {
	// GroupID limits the replay to one group; empty means all groups.
	GroupID string
}

// ScopeAll replays every archived session.
var ScopeAll = Scope{}

const groupPrefix = "group:"

// ParseScope accepts "all" (or empty) and "group:<id>".
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "all"):
		return ScopeAll, nil
	case strings.HasPrefix(s, groupPrefix):
		id := strings.TrimSpace(strings.TrimPrefix(s, groupPrefix))
		if id == "" {
			return Scope{}, fmt.Errorf("%w: empty group id", ErrInvalidScope)
		}
		return Scope{GroupID: id}, nil
	default:
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

func (s Scope) String() string {
	if s.GroupID == "" {
		return "all"
	}
	return groupPrefix + s.GroupID
}
