package main

import (
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/nmtlunabotics/david/internal/log"
	"github.com/nmtlunabotics/david/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"david.json" description:"Configuration file"`
	DryRun   bool   `long:"dry-run" description:"Use simulated hardware"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error)"`

	Setup SetupCommand `command:"setup" description:"Scan the motor bus and assign motors"`
	Drive DriveCommand `command:"drive" description:"Drive the robot from the keyboard"`
	Pitch PitchCommand `command:"pitch" description:"Move the pitch actuator to a preset position"`
	Serve ServeCommand `command:"serve" description:"Run every motor loop, the pitch actuator and the HTTP API"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "david - actuator and motor control for the mining robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and applies env and flag overrides.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		cfg.DryRun = true
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

// configureLog sends log output to w, or stderr when w is nil.
func configureLog(cfg *robot.Config, w io.Writer) {
	log.Configure(log.Config{Level: cfg.LogLevel, Output: w})
}
