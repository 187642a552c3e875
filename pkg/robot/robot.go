package robot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/nmtlunabotics/david/pkg/motor"
	"github.com/nmtlunabotics/david/pkg/pitch"
)

// Robot is the opened hardware: one node per configured motor and the
// pitch trigger lines. In dry-run mode both are simulated.
type Robot struct {
	cfg *Config
	log zerolog.Logger

	port  *Port
	nodes map[MotorName]*Node
	lines *Lines

	sim      *SimBus
	simLines *SimLines
}

// Open opens the hardware described by cfg.
func Open(ctx context.Context, cfg *Config, log zerolog.Logger) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pc, err := cfg.PitchSequencerConfig()
	if err != nil {
		return nil, err
	}

	r := &Robot{cfg: cfg, log: log, nodes: make(map[MotorName]*Node)}
	if cfg.DryRun {
		r.sim = NewSimBus()
		r.simLines = NewSimLines()
		log.Info().Msg("dry run: using simulated hardware")
		return r, nil
	}

	if r.port, err = OpenPort(cfg.Port, cfg.BaudRate); err != nil {
		return nil, err
	}
	for _, name := range r.Motors() {
		node, err := r.port.Node(ctx, name, cfg.Motors[name].MotorCalibration)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.nodes[name] = node
		log.Debug().Str("motor", string(name)).Int("id", cfg.Motors[name].ID).Msg("motor node ready")
	}

	lines := make([]int, 0, len(pc.Lines))
	for _, line := range pc.Lines {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	if r.lines, err = OpenLines(lines...); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Config returns the configuration the robot was opened with.
func (r *Robot) Config() *Config {
	return r.cfg
}

// DryRun reports whether the hardware is simulated.
func (r *Robot) DryRun() bool {
	return r.sim != nil
}

// Motors returns the configured motor names in id order.
func (r *Robot) Motors() []MotorName {
	names := make([]MotorName, 0, len(r.cfg.Motors))
	for name := range r.cfg.Motors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.cfg.Motors[names[i]].ID < r.cfg.Motors[names[j]].ID
	})
	return names
}

// Motor returns the velocity handle for a configured motor.
func (r *Robot) Motor(name MotorName) (motor.Handle, error) {
	if _, ok := r.cfg.Motors[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMotor, name)
	}
	if r.sim != nil {
		return r.sim.Handle(name), nil
	}
	node, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMotor, name)
	}
	return node, nil
}

// Position reads a motor's normalized position. Simulated motors report
// zero.
func (r *Robot) Position(ctx context.Context, name MotorName) (float64, error) {
	if _, ok := r.cfg.Motors[name]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMotor, name)
	}
	if r.sim != nil {
		return 0, nil
	}
	return r.nodes[name].Position(ctx)
}

// Trigger returns the pitch actuator trigger lines.
func (r *Robot) Trigger() pitch.Trigger {
	if r.simLines != nil {
		return r.simLines
	}
	return r.lines
}

// Sim returns the simulated bus and lines, or nils on real hardware.
func (r *Robot) Sim() (*SimBus, *SimLines) {
	return r.sim, r.simLines
}

// Close releases every node, the trigger lines and the port.
func (r *Robot) Close() error {
	var errs []error
	for name, node := range r.nodes {
		if err := node.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.nodes = map[MotorName]*Node{}
	if r.lines != nil {
		if err := r.lines.Close(); err != nil {
			errs = append(errs, err)
		}
		r.lines = nil
	}
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			errs = append(errs, err)
		}
		r.port = nil
	}
	return errors.Join(errs...)
}
