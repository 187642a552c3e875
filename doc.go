// Package david drives the actuators and motors of the NMT Lunabotics
// mining robot.
//
// Two control patterns live here. The pitch mechanism is a linear actuator
// moved by a momentary trigger pulse; a single-goal sequencer fires the
// pulse, waits out the calibrated stroke time while reporting progress, and
// publishes the resulting joint angle. Traction and utility motors each run
// a fixed-rate control loop that re-applies the latest commanded velocity,
// no matter how often that command changes.
//
// # Usage
//
// Scan the motor bus and assign servo ids to motors:
//
//	david setup
//
// Drive with the keyboard:
//
//	david drive
//
// Move the pitch actuator once:
//
//	david pitch extend
//
// Run everything behind the HTTP/websocket interface:
//
//	david serve
//
// # Packages
//
//   - cmd/david: CLI with setup, drive, pitch and serve commands
//   - pkg/kinematics: actuator geometry
//   - pkg/pitch: pitch goal sequencer
//   - pkg/motor: per-motor velocity control loop
//   - pkg/drive: velocity mixing and keyboard navigation
//   - pkg/robot: hardware ports, trigger lines, calibration, configuration
//   - pkg/teleop: teleoperation controller
//   - pkg/hub, pkg/server: state publication and remote control
package david
