// Package kinematics converts linear actuator extension into joint angles.
package kinematics

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateTriangle is returned when the sides cannot form a triangle.
var ErrDegenerateTriangle = errors.New("degenerate triangle")

// GeometryError describes an infeasible extension length.
type GeometryError struct {
	A, C   float64 // fixed sides
	Length float64 // requested extension
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("extension %.4f m outside [%.4f, %.4f] for sides a=%.4f c=%.4f: %v",
		e.Length, math.Abs(e.A-e.C), e.A+e.C, e.A, e.C, ErrDegenerateTriangle)
}

func (e *GeometryError) Unwrap() error {
	return ErrDegenerateTriangle
}

// Measured sides of the pitch mechanism, in meters.
const (
	FwdHingeToMountBracket = 0.39
	RearPivotToFwdHinge    = 0.71
)

// Triangle holds the two fixed sides of the mechanism. The actuator is the
// third side and varies with extension.
type Triangle struct {
	A float64 // forward hinge to mount bracket
	C float64 // rear pivot to forward hinge
}

// PitchMechanism returns the geometry of the robot's pitch actuator.
func PitchMechanism() Triangle {
	return Triangle{A: FwdHingeToMountBracket, C: RearPivotToFwdHinge}
}

// Validate checks that both fixed sides are positive.
func (t Triangle) Validate() error {
	if !(t.A > 0) || !(t.C > 0) {
		return fmt.Errorf("sides a=%v c=%v must be positive: %w", t.A, t.C, ErrDegenerateTriangle)
	}
	return nil
}

// Feasible reports whether b satisfies the triangle inequality against the
// fixed sides.
func (t Triangle) Feasible(b float64) bool {
	if t.Validate() != nil || math.IsNaN(b) {
		return false
	}
	return b >= math.Abs(t.A-t.C) && b <= t.A+t.C
}

// Angle returns the joint angle in radians for extension length b, using the
// law of cosines measured from the mechanism's zero reference:
//
//	angle = π − acos((a² + c² − b²) / (2ac))
func (t Triangle) Angle(b float64) (float64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if !t.Feasible(b) {
		return 0, &GeometryError{A: t.A, C: t.C, Length: b}
	}

	cos := (t.A*t.A + t.C*t.C - b*b) / (2 * t.A * t.C)
	// Rounding at the boundaries can push the ratio a hair past ±1.
	cos = math.Max(-1, math.Min(1, cos))
	return math.Pi - math.Acos(cos), nil
}
