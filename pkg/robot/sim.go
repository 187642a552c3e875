package robot

import (
	"context"
	"sync"

	"github.com/nmtlunabotics/david/pkg/motor"
)

// SimBus stands in for the motor bus in dry runs. It remembers the last
// velocity written to each motor.
type SimBus struct {
	mu         sync.Mutex
	velocities map[MotorName]float64
	writes     map[MotorName]uint64
}

// NewSimBus returns an empty simulated bus.
func NewSimBus() *SimBus {
	return &SimBus{
		velocities: make(map[MotorName]float64),
		writes:     make(map[MotorName]uint64),
	}
}

// Handle returns the motor handle for name.
func (b *SimBus) Handle(name MotorName) motor.Handle {
	return motor.HandleFunc(func(ctx context.Context, v float64) error {
		if err := ctx.Err(); err != nil && v != 0 {
			return err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.velocities[name] = v
		b.writes[name]++
		return nil
	})
}

// Velocity returns the last velocity written to name.
func (b *SimBus) Velocity(name MotorName) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.velocities[name]
}

// Writes returns how many velocity writes name received.
func (b *SimBus) Writes(name MotorName) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes[name]
}

// LineChange is one recorded trigger line transition.
type LineChange struct {
	Line int
	On   bool
}

// SimLines records trigger line changes in dry runs.
type SimLines struct {
	mu      sync.Mutex
	state   map[int]bool
	changes []LineChange
}

// NewSimLines returns simulated trigger lines, all low.
func NewSimLines() *SimLines {
	return &SimLines{state: make(map[int]bool)}
}

// SetLine records the change.
func (l *SimLines) SetLine(ctx context.Context, line int, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state[line] = on
	l.changes = append(l.changes, LineChange{Line: line, On: on})
	return nil
}

// Line reports whether line is high.
func (l *SimLines) Line(line int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state[line]
}

// Changes returns every recorded change in order.
func (l *SimLines) Changes() []LineChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LineChange(nil), l.changes...)
}
