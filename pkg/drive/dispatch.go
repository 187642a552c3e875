package drive

import (
	"sync"
)

// Event is a discrete directional input.
type Event int

// Input events.
const (
	None Event = iota
	Forward
	Back
	Left
	Right
	Quit
)

func (e Event) String() string {
	switch e {
	case Forward:
		return "forward"
	case Back:
		return "back"
	case Left:
		return "left"
	case Right:
		return "right"
	case Quit:
		return "quit"
	}
	return "none"
}

var directions = map[Event]Vector{
	Forward: {X: 1, Y: 1},
	Back:    {X: -1, Y: -1},
	Left:    {X: -1, Y: 1},
	Right:   {X: 1, Y: -1},
}

// Direction returns the navigation vector for a movement event.
func Direction(e Event) (Vector, bool) {
	v, ok := directions[e]
	return v, ok
}

var keys = map[string]Event{
	"up":     Forward,
	"w":      Forward,
	"down":   Back,
	"s":      Back,
	"left":   Left,
	"a":      Left,
	"right":  Right,
	"d":      Right,
	"q":      Quit,
	"ctrl+c": Quit,
}

// EventForKey maps a terminal key name to an event. Unbound keys return false.
func EventForKey(key string) (Event, bool) {
	e, ok := keys[key]
	return e, ok
}

// Setter accepts velocity targets. *motor.Loop satisfies it.
type Setter interface {
	SetTarget(v float64)
}

// Wheel is a driven wheel with its fixed mix vector.
type Wheel struct {
	Name   string
	Mix    Vector
	Target Setter
}

// Dispatcher fans navigation events out to every wheel.
type Dispatcher struct {
	wheels []Wheel

	mu      sync.Mutex
	current Vector
}

// NewDispatcher creates a dispatcher for the given wheels. The wheel set
// is fixed for the dispatcher's lifetime.
func NewDispatcher(wheels ...Wheel) *Dispatcher {
	return &Dispatcher{wheels: append([]Wheel(nil), wheels...)}
}

// Wheels returns the wheels in dispatch order.
func (d *Dispatcher) Wheels() []Wheel {
	return append([]Wheel(nil), d.wheels...)
}

// Dispatch applies one event. Movement events write every wheel's target;
// Quit writes nothing and reports true. Unknown events are ignored.
func (d *Dispatcher) Dispatch(e Event) (quit bool) {
	if e == Quit {
		return true
	}
	v, ok := Direction(e)
	if !ok {
		return false
	}
	d.Apply(v)
	return false
}

// Apply writes the mix of v to every wheel.
func (d *Dispatcher) Apply(v Vector) {
	d.mu.Lock()
	d.current = v
	d.mu.Unlock()

	for _, w := range d.wheels {
		w.Target.SetTarget(Mix(w.Mix, v))
	}
}

// Stop zeroes every wheel.
func (d *Dispatcher) Stop() {
	d.Apply(Vector{})
}

// Current returns the most recently applied navigation vector.
func (d *Dispatcher) Current() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
