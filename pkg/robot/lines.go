package robot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Lines drives the pitch actuator's trigger inputs through GPIO.
type Lines struct {
	mu   sync.Mutex
	pins map[int]gpio.PinOut
}

// OpenLines initializes the host GPIO driver and drives every listed BCM
// line low.
func OpenLines(lines ...int) (*Lines, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	l := &Lines{pins: make(map[int]gpio.PinOut, len(lines))}
	for _, n := range lines {
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		if pin == nil {
			return nil, fmt.Errorf("gpio line %d not found", n)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("gpio line %d: %w", n, err)
		}
		l.pins[n] = pin
	}
	return l, nil
}

// SetLine drives a line high (on) or low.
func (l *Lines) SetLine(ctx context.Context, line int, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pin, ok := l.pins[line]
	if !ok {
		return fmt.Errorf("gpio line %d not configured", line)
	}
	return pin.Out(gpio.Level(on))
}

// Close drives every line low.
func (l *Lines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]int, 0, len(l.pins))
	for n := range l.pins {
		ids = append(ids, n)
	}
	sort.Ints(ids)

	var firstErr error
	for _, n := range ids {
		if err := l.pins[n].Out(gpio.Low); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gpio line %d: %w", n, err)
		}
	}
	return firstErr
}
