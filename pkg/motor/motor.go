// Package motor runs the fixed-rate velocity control loop for a single motor.
package motor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nmtlunabotics/david/internal/metrics"
)

// DefaultHz is the control frequency used when none is configured.
const DefaultHz = 1000

// MaxHz is the highest control frequency a Loop runs at.
const MaxHz = 10_000

const stopTimeout = 250 * time.Millisecond

// ErrNotImplemented is returned by operations the motor nodes do not support.
var ErrNotImplemented = errors.New("not implemented")

// Handle writes a velocity command to one physical motor.
type Handle interface {
	SetVelocity(ctx context.Context, value float64) error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context, value float64) error

// SetVelocity calls f(ctx, value).
func (f HandleFunc) SetVelocity(ctx context.Context, value float64) error {
	return f(ctx, value)
}

// Stats is a snapshot of a loop's counters.
type Stats struct {
	Ticks     uint64
	Failures  uint64
	Applied   float64 // value sent on the most recent tick
	LastError error
}

// Loop re-applies the latest velocity target to its motor at a fixed rate.
// SetTarget may be called from any goroutine; the last write wins.
type Loop struct {
	name   string
	handle Handle
	period time.Duration
	log    zerolog.Logger

	target   atomic.Uint64 // math.Float64bits of the target
	ticks    atomic.Uint64
	failures atomic.Uint64
	applied  atomic.Uint64

	errMu   sync.Mutex
	lastErr error
	errLog  rate.Sometimes

	ticksMetric    prometheus.Counter
	failuresMetric prometheus.Counter
	targetMetric   prometheus.Gauge
}

// Option configures a Loop.
type Option func(*Loop)

// WithHz sets the control frequency. Non-positive values keep the default
// and values above MaxHz are clamped.
func WithHz(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.period = time.Second / time.Duration(min(hz, MaxHz))
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// NewLoop creates a control loop for the motor behind h. The loop does not
// tick until Run is called.
func NewLoop(name string, h Handle, opts ...Option) *Loop {
	l := &Loop{
		name:           name,
		handle:         h,
		period:         time.Second / DefaultHz,
		log:            zerolog.Nop(),
		errLog:         rate.Sometimes{First: 1, Interval: 5 * time.Second},
		ticksMetric:    metrics.MotorTicksTotal.WithLabelValues(name),
		failuresMetric: metrics.MotorWriteFailuresTotal.WithLabelValues(name),
		targetMetric:   metrics.MotorTarget.WithLabelValues(name),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("motor", name).Logger()
	return l
}

// Name returns the motor name.
func (l *Loop) Name() string {
	return l.name
}

// Period returns the time between ticks.
func (l *Loop) Period() time.Duration {
	return l.period
}

// SetTarget overwrites the velocity target. It never blocks; a target
// overwritten before the next tick is never applied.
func (l *Loop) SetTarget(v float64) {
	l.target.Store(math.Float64bits(v))
	l.targetMetric.Set(v)
}

// Target returns the current velocity target.
func (l *Loop) Target() float64 {
	return math.Float64frombits(l.target.Load())
}

// SetPosition is not supported by the motor nodes.
func (l *Loop) SetPosition(float64) error {
	return ErrNotImplemented
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.errMu.Lock()
	lastErr := l.lastErr
	l.errMu.Unlock()
	return Stats{
		Ticks:     l.ticks.Load(),
		Failures:  l.failures.Load(),
		Applied:   math.Float64frombits(l.applied.Load()),
		LastError: lastErr,
	}
}

// Run ticks until ctx is cancelled and returns ctx.Err(). Write failures
// are counted and the next tick tries again. On exit the motor is commanded
// to zero velocity once, best effort.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.log.Debug().Dur("period", l.period).Msg("control loop started")

	for {
		select {
		case <-ctx.Done():
			l.shutdown(ctx)
			return ctx.Err()
		case <-ticker.C:
			l.step(ctx)
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := l.handle.SetVelocity(stopCtx, 0); err != nil {
		l.log.Warn().Err(err).Msg("failed to stop motor")
	}
	l.log.Debug().Msg("control loop stopped")
}

// step applies the target visible at read time.
func (l *Loop) step(ctx context.Context) {
	v := l.Target()
	l.ticks.Add(1)
	l.ticksMetric.Inc()

	err := l.handle.SetVelocity(ctx, v)

	l.errMu.Lock()
	l.lastErr = err
	l.errMu.Unlock()

	if err != nil {
		n := l.failures.Add(1)
		l.failuresMetric.Inc()
		l.errLog.Do(func() {
			l.log.Warn().Err(err).Float64("target", v).Uint64("failures", n).Msg("velocity write failed")
		})
		return
	}
	l.applied.Store(math.Float64bits(v))
}
