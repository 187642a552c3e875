// Package metrics provides Prometheus collectors for the motor loops and
// the pitch sequencer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay bounded: motor names and goal kinds are closed sets.

var (
	// MotorTicksTotal counts control ticks per motor.
	MotorTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "david_motor_ticks_total",
		Help: "Total number of control loop ticks, by motor.",
	}, []string{"motor"})

	// MotorWriteFailuresTotal counts velocity writes the hardware refused.
	MotorWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "david_motor_write_failures_total",
		Help: "Total number of failed velocity writes, by motor.",
	}, []string{"motor"})

	// MotorTarget exposes the most recently commanded velocity.
	MotorTarget = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "david_motor_target",
		Help: "Most recently commanded velocity target, by motor.",
	}, []string{"motor"})

	// PitchGoalsTotal counts finished pitch goals by kind and outcome.
	PitchGoalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "david_pitch_goals_total",
		Help: "Total number of pitch goals, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// PitchProgress is the progress fraction of the active pitch goal.
	PitchProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "david_pitch_progress",
		Help: "Progress fraction of the active pitch goal.",
	})

	// PitchAngle is the last published pitch joint angle in radians.
	PitchAngle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "david_pitch_angle_radians",
		Help: "Last published pitch joint angle.",
	})
)

// Goal outcomes used as the outcome label.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomePreempted = "preempted"
	OutcomeAborted   = "aborted"
)
