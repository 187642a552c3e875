// Package robot provides the robot's hardware: motor nodes on the serial
// bus, the pitch actuator's trigger lines, calibration and configuration.
package robot

// MotorName identifies a motor on the robot.
type MotorName string

// Motor names, as the robot's nodes are labelled.
const (
	LocoLeft  MotorName = "loco_left"
	LocoRight MotorName = "loco_right"
	Auger     MotorName = "auger_rotation"
	DepthL    MotorName = "L_depth"
	DepthR    MotorName = "R_depth"
	DumpL     MotorName = "left_dump"
	DumpR     MotorName = "right_dump"
)

// AllMotors returns all motor names in node order (matching servo IDs 1-7).
func AllMotors() []MotorName {
	return []MotorName{
		LocoLeft,
		LocoRight,
		Auger,
		DepthL,
		DepthR,
		DumpL,
		DumpR,
	}
}

// IsMotor reports whether name is a known motor.
func IsMotor(name MotorName) bool {
	for _, m := range AllMotors() {
		if m == name {
			return true
		}
	}
	return false
}
