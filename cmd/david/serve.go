package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nmtlunabotics/david/internal/log"
	"github.com/nmtlunabotics/david/pkg/hub"
	"github.com/nmtlunabotics/david/pkg/pitch"
	"github.com/nmtlunabotics/david/pkg/robot"
	"github.com/nmtlunabotics/david/pkg/server"
	"github.com/nmtlunabotics/david/pkg/teleop"
)

type ServeCommand struct {
	Listen string `short:"l" long:"listen" description:"HTTP listen address (default from config)"`
}

func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	configureLog(cfg, nil)
	logger := log.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := robot.Open(ctx, cfg, log.WithComponent("robot"))
	if err != nil {
		return fmt.Errorf("open robot: %w", err)
	}
	defer r.Close()

	ctrl, err := teleop.NewController(r, teleop.Config{Hz: cfg.ControlHz, Log: log.WithComponent("motor")})
	if err != nil {
		return err
	}

	pc, err := cfg.PitchSequencerConfig()
	if err != nil {
		return err
	}
	joints := hub.New("joints", logger)
	seq, err := pitch.NewSequencer(pc, r.Trigger(), server.NewPublisher(joints), log.WithComponent("pitch"))
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Listen:     cfg.Listen,
		Sequencer:  seq,
		Controller: ctrl,
		Robot:      r,
		Joints:     joints,
		Log:        log.WithComponent("http"),
	})

	logger.Info().
		Bool("dry_run", cfg.DryRun).
		Int("motors", len(ctrl.Motors())).
		Int("control_hz", ctrl.Hz()).
		Msg("starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}
