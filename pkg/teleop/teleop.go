// Package teleop runs the robot's motor loops and drives them from
// navigation events.
package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nmtlunabotics/david/pkg/drive"
	"github.com/nmtlunabotics/david/pkg/motor"
	"github.com/nmtlunabotics/david/pkg/robot"
)

// State represents the current state of teleoperation.
type State struct {
	Targets   map[robot.MotorName]float64
	Nav       drive.Vector
	Timestamp time.Time
	Error     error
}

// Config holds configuration for the controller.
type Config struct {
	Hz       int // motor control frequency
	SampleHz int // state update frequency
	Log      zerolog.Logger
}

// Controller owns one control loop per motor and the navigation dispatcher
// over the drive motors.
type Controller struct {
	order      []robot.MotorName
	loops      map[robot.MotorName]*motor.Loop
	dispatcher *drive.Dispatcher
	hz         int
	sampleHz   int
	zlog       zerolog.Logger

	mu      sync.RWMutex
	running bool
	stateCh chan State
	logCh   chan string
}

// NewController creates a loop for every motor of r.
func NewController(r *robot.Robot, cfg Config) (*Controller, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = motor.DefaultHz
	}
	cfg.Hz = min(cfg.Hz, motor.MaxHz)
	if cfg.SampleHz <= 0 {
		cfg.SampleHz = 30
	}

	c := &Controller{
		order:    r.Motors(),
		loops:    make(map[robot.MotorName]*motor.Loop),
		hz:       cfg.Hz,
		sampleHz: cfg.SampleHz,
		zlog:     cfg.Log,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}

	var wheels []drive.Wheel
	for _, name := range c.order {
		h, err := r.Motor(name)
		if err != nil {
			return nil, fmt.Errorf("motor %s: %w", name, err)
		}
		loop := motor.NewLoop(string(name), h, motor.WithHz(cfg.Hz), motor.WithLogger(cfg.Log))
		c.loops[name] = loop

		if mc := r.Config().Motors[name]; mc.Drive {
			wheels = append(wheels, drive.Wheel{Name: string(name), Mix: mc.Mix, Target: loop})
		}
	}
	c.dispatcher = drive.NewDispatcher(wheels...)
	return c, nil
}

// Motors returns the motor names in id order.
func (c *Controller) Motors() []robot.MotorName {
	return append([]robot.MotorName(nil), c.order...)
}

// Loop returns the control loop of a motor.
func (c *Controller) Loop(name robot.MotorName) (*motor.Loop, bool) {
	l, ok := c.loops[name]
	return l, ok
}

// Dispatcher returns the navigation dispatcher.
func (c *Controller) Dispatcher() *drive.Dispatcher {
	return c.dispatcher
}

// Handle dispatches a navigation event and reports whether it asks to quit.
func (c *Controller) Handle(e drive.Event) bool {
	quit := c.dispatcher.Dispatch(e)
	if e != drive.None {
		c.log("Drive: %s", e)
	}
	return quit
}

// SetTarget sets the velocity target of one motor.
func (c *Controller) SetTarget(name robot.MotorName, v float64) error {
	l, ok := c.loops[name]
	if !ok {
		return fmt.Errorf("%w: %q", robot.ErrUnknownMotor, name)
	}
	l.SetTarget(v)
	return nil
}

// Stop zeroes every motor target.
func (c *Controller) Stop() {
	c.dispatcher.Stop()
	for _, l := range c.loops {
		l.SetTarget(0)
	}
}

// Targets returns the current target of every motor.
func (c *Controller) Targets() map[robot.MotorName]float64 {
	targets := make(map[robot.MotorName]float64, len(c.loops))
	for name, l := range c.loops {
		targets[name] = l.Target()
	}
	return targets
}

// Stats returns the loop counters of every motor.
func (c *Controller) Stats() map[robot.MotorName]motor.Stats {
	stats := make(map[robot.MotorName]motor.Stats, len(c.loops))
	for name, l := range c.loops {
		stats[name] = l.Stats()
	}
	return stats
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Running reports whether Start is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	c.zlog.Debug().Msgf(format, args...)
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start runs every motor loop until ctx is cancelled. Each loop commands
// its motor to zero on exit.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	c.log("Control loops started at %d Hz (%d motors)", c.hz, len(c.loops))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.order {
		loop := c.loops[name]
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}
	g.Go(func() error {
		return c.sample(gctx)
	})

	err := g.Wait()
	c.shutdown()
	return err
}

func (c *Controller) sample(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.sampleHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sendState(c.snapshot())
		}
	}
}

func (c *Controller) snapshot() State {
	s := State{
		Targets:   c.Targets(),
		Nav:       c.dispatcher.Current(),
		Timestamp: time.Now(),
	}
	for _, name := range c.order {
		if err := c.loops[name].Stats().LastError; err != nil {
			s.Error = fmt.Errorf("%s: %w", name, err)
			break
		}
	}
	return s
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.log("Control loops stopped")
}
