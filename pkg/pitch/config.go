package pitch

import (
	"fmt"
	"time"

	"github.com/nmtlunabotics/david/pkg/kinematics"
)

// Extension lengths of the actuator in meters.
const (
	ExtendClose = 0.46
	ExtendHalf  = 0.51
	ExtendFull  = 0.675
)

// Timing of a pitch motion. A full stroke measured 47.79 s (home) and
// 48.17 s (extend) at 11.49 V; the robot runs at 12 V.
const (
	DefaultPulse            = 100 * time.Millisecond
	DefaultBudget           = 50 * time.Second
	DefaultFeedbackInterval = 100 * time.Millisecond
)

// DefaultJoint is the joint name published with every JointState.
const DefaultJoint = "R_pitch"

// Config describes one pitch actuator.
type Config struct {
	Joint    string
	Geometry kinematics.Triangle
	Lengths  map[GoalKind]float64 // extension per goal, meters
	Lines    map[GoalKind]int     // trigger line per goal

	Pulse            time.Duration // trigger pulse width
	Budget           time.Duration // assumed stroke time
	FeedbackInterval time.Duration
}

// DefaultConfig returns the configuration of the robot's pitch actuator.
func DefaultConfig() Config {
	return Config{
		Joint:    DefaultJoint,
		Geometry: kinematics.PitchMechanism(),
		Lengths: map[GoalKind]float64{
			Home:       ExtendClose,
			Extend:     ExtendFull,
			Retract:    ExtendClose,
			HalfExtend: ExtendHalf,
		},
		Lines: map[GoalKind]int{
			Home:       21,
			Extend:     20,
			Retract:    12,
			HalfExtend: 16,
		},
		Pulse:            DefaultPulse,
		Budget:           DefaultBudget,
		FeedbackInterval: DefaultFeedbackInterval,
	}
}

// Validate checks that every goal kind maps to a feasible length and a
// trigger line, and that the timings are positive.
func (c Config) Validate() error {
	if c.Joint == "" {
		return fmt.Errorf("pitch: joint name required")
	}
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("pitch: %w", err)
	}
	for _, k := range AllKinds() {
		length, ok := c.Lengths[k]
		if !ok {
			return fmt.Errorf("pitch: no extension length for %s", k)
		}
		if _, err := c.Geometry.Angle(length); err != nil {
			return fmt.Errorf("pitch: %s: %w", k, err)
		}
		if _, ok := c.Lines[k]; !ok {
			return fmt.Errorf("pitch: no trigger line for %s", k)
		}
	}
	if c.Pulse <= 0 || c.Budget <= 0 || c.FeedbackInterval <= 0 {
		return fmt.Errorf("pitch: pulse, budget and feedback interval must be positive")
	}
	return nil
}
