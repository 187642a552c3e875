// Package pitch sequences goals for the pitch actuator: pulse the trigger
// line for the goal, wait out the calibrated stroke time while reporting
// progress, then publish the resulting joint angle.
package pitch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GoalKind selects one of the actuator's preset positions.
type GoalKind int

// Goal kinds, numbered as they appear on the wire.
const (
	Home GoalKind = iota
	Extend
	Retract
	HalfExtend
)

// AllKinds returns every goal kind in wire order.
func AllKinds() []GoalKind {
	return []GoalKind{Home, Extend, Retract, HalfExtend}
}

// Valid reports whether k is a known goal kind.
func (k GoalKind) Valid() bool {
	return k >= Home && k <= HalfExtend
}

func (k GoalKind) String() string {
	switch k {
	case Home:
		return "home"
	case Extend:
		return "extend"
	case Retract:
		return "retract"
	case HalfExtend:
		return "half_extend"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// ParseGoalKind accepts a kind name ("extend", "half-extend") or its wire number.
func ParseGoalKind(s string) (GoalKind, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, k := range AllKinds() {
		if name == k.String() {
			return k, nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && GoalKind(n).Valid() {
		return GoalKind(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidGoal, s)
}

// Goal is one motion request.
type Goal struct {
	ID   string   `json:"id"`
	Kind GoalKind `json:"goal_state"`
}

// NewGoal returns a goal of the given kind with a fresh id.
func NewGoal(kind GoalKind) Goal {
	return Goal{ID: uuid.NewString(), Kind: kind}
}

// Feedback reports progress of the active goal.
type Feedback struct {
	GoalID   string        `json:"id"`
	Progress float64       `json:"progress"`
	Elapsed  time.Duration `json:"elapsed"`
}

// FeedbackFunc receives feedback on the executing goroutine while the
// sequencer is locked. It must not block or call back into the Sequencer.
type FeedbackFunc func(Feedback)

// JointState is the derived joint position published after a motion.
type JointState struct {
	Name     string  `json:"name"`
	Angle    float64 `json:"position"`
	Velocity float64 `json:"velocity"`
	Effort   float64 `json:"effort"`
}

// State is the sequencer's lifecycle state.
type State int

// Sequencer states.
const (
	Idle State = iota
	Triggering
	Waiting
	Publishing
	Succeeded
	Rejected
	Aborted
	Preempted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggering:
		return "triggering"
	case Waiting:
		return "waiting"
	case Publishing:
		return "publishing"
	case Succeeded:
		return "succeeded"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	case Preempted:
		return "preempted"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrInvalidGoal is returned for goal kinds outside the enumeration.
	ErrInvalidGoal = errors.New("invalid goal")
	// ErrPreempted is returned by a goal superseded by a newer one.
	ErrPreempted = errors.New("goal preempted")
	// ErrHardware matches every *HardwareError.
	ErrHardware = errors.New("hardware error")
)

// HardwareError reports a failed write to the trigger line or the joint
// state channel.
type HardwareError struct {
	Op   string
	Line int
	Err  error
}

func (e *HardwareError) Error() string {
	if e.Line != 0 {
		return fmt.Sprintf("%s line %d: %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Is matches ErrHardware.
func (e *HardwareError) Is(target error) bool {
	return target == ErrHardware
}
