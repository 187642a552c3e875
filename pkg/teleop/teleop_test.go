package teleop

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nmtlunabotics/david/pkg/drive"
	"github.com/nmtlunabotics/david/pkg/motor"
	"github.com/nmtlunabotics/david/pkg/robot"
)

func newTestController(t *testing.T) (*Controller, *robot.SimBus) {
	t.Helper()
	cfg := robot.DefaultConfig()
	cfg.DryRun = true
	r, err := robot.Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	c, err := NewController(r, Config{Hz: 200, SampleHz: 50, Log: zerolog.Nop()})
	require.NoError(t, err)
	bus, _ := r.Sim()
	return c, bus
}

func TestController_Handle(t *testing.T) {
	c, _ := newTestController(t)

	assert.False(t, c.Handle(drive.Forward))
	targets := c.Targets()
	assert.Equal(t, -1.0, targets[robot.LocoLeft])
	assert.Equal(t, 1.0, targets[robot.LocoRight])
	assert.Zero(t, targets[robot.Auger], "utility motors are not driven")

	assert.False(t, c.Handle(drive.Left))
	targets = c.Targets()
	assert.Equal(t, 1.0, targets[robot.LocoLeft])
	assert.Equal(t, 1.0, targets[robot.LocoRight])

	assert.True(t, c.Handle(drive.Quit))
	assert.Equal(t, targets, c.Targets(), "quit writes no target")

	c.Stop()
	for name, v := range c.Targets() {
		assert.Zero(t, v, name)
	}
}

func TestController_SetTarget(t *testing.T) {
	c, _ := newTestController(t)

	require.NoError(t, c.SetTarget(robot.Auger, 0.4))
	l, ok := c.Loop(robot.Auger)
	require.True(t, ok)
	assert.Equal(t, 0.4, l.Target())

	require.ErrorIs(t, c.SetTarget("wheel", 1), robot.ErrUnknownMotor)
	assert.Equal(t, robot.AllMotors(), c.Motors())
}

func TestController_Start(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, bus := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	c.Handle(drive.Forward)
	require.NoError(t, c.SetTarget(robot.DumpL, 0.5))

	require.Eventually(t, func() bool {
		return bus.Velocity(robot.LocoRight) == 1 && bus.Velocity(robot.DumpL) == 0.5
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case s := <-c.States():
		assert.NoError(t, s.Error)
		assert.Equal(t, drive.Vector{X: 1, Y: 1}, s.Nav)
	case <-time.After(2 * time.Second):
		t.Fatal("no state update")
	}
	assert.True(t, c.Running())
	require.Error(t, c.Start(ctx), "second start")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	assert.False(t, c.Running())

	for _, name := range robot.AllMotors() {
		assert.Zero(t, bus.Velocity(name), "%s stopped on exit", name)
		assert.NotZero(t, c.Stats()[name].Ticks, name)
	}
}

func TestNewController_ClampsHz(t *testing.T) {
	cfg := robot.DefaultConfig()
	cfg.DryRun = true
	r, err := robot.Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	c, err := NewController(r, Config{Hz: 2_000_000_000, Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, motor.MaxHz, c.Hz())
}
