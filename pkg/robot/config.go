package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/nmtlunabotics/david/pkg/drive"
	"github.com/nmtlunabotics/david/pkg/motor"
	"github.com/nmtlunabotics/david/pkg/pitch"
)

const DefaultConfigFile = "david.json"

// Config holds the robot configuration
type Config struct {
	Port      string `json:"port" env:"DAVID_PORT"`
	BaudRate  int    `json:"baud_rate" env:"DAVID_BAUD_RATE"`
	ControlHz int    `json:"control_hz" env:"DAVID_CONTROL_HZ"`
	Listen    string `json:"listen" env:"DAVID_LISTEN"`
	DryRun    bool   `json:"dry_run" env:"DAVID_DRY_RUN"`
	LogLevel  string `json:"log_level,omitempty" env:"DAVID_LOG_LEVEL"`

	Motors map[MotorName]MotorConfig `json:"motors"`
	Pitch  PitchConfig               `json:"pitch"`
}

// MotorConfig holds configuration for a single motor
type MotorConfig struct {
	MotorCalibration
	Mix   drive.Vector `json:"mix"`
	Drive bool         `json:"drive"` // driven by keyboard navigation
}

// PitchConfig holds configuration for the pitch actuator
type PitchConfig struct {
	Joint      string         `json:"joint"`
	Lines      map[string]int `json:"lines"` // goal kind name -> BCM line
	PulseMS    int            `json:"pulse_ms"`
	BudgetMS   int            `json:"budget_ms"`
	FeedbackMS int            `json:"feedback_ms"`
}

// DefaultConfig returns the configuration of the competition robot.
func DefaultConfig() *Config {
	motors := make(map[MotorName]MotorConfig, len(AllMotors()))
	for i, name := range AllMotors() {
		motors[name] = MotorConfig{
			MotorCalibration: MotorCalibration{ID: i + 1, RangeMin: 0, RangeMax: 4095, MaxSpeed: 50},
			Mix:              drive.Vector{X: 0, Y: 1},
		}
	}
	left := motors[LocoLeft]
	left.Mix, left.Drive = drive.Vector{X: -1, Y: 0}, true
	motors[LocoLeft] = left
	right := motors[LocoRight]
	right.Mix, right.Drive = drive.Vector{X: 0, Y: 1}, true
	motors[LocoRight] = right

	pc := pitch.DefaultConfig()
	lines := make(map[string]int, len(pc.Lines))
	for kind, line := range pc.Lines {
		lines[kind.String()] = line
	}

	return &Config{
		Port:      "/dev/ttyUSB0",
		BaudRate:  1_000_000,
		ControlHz: motor.DefaultHz,
		Listen:    ":8080",
		Motors:    motors,
		Pitch: PitchConfig{
			Joint:      pc.Joint,
			Lines:      lines,
			PulseMS:    int(pc.Pulse / time.Millisecond),
			BudgetMS:   int(pc.Budget / time.Millisecond),
			FeedbackMS: int(pc.FeedbackInterval / time.Millisecond),
		},
	}
}

// Calibration returns the calibration of every configured motor.
func (c *Config) Calibration() Calibration {
	cal := make(Calibration, len(c.Motors))
	for name, mc := range c.Motors {
		cal[name] = mc.MotorCalibration
	}
	return cal
}

// PitchSequencerConfig converts the pitch section to a sequencer config.
// Zero values fall back to the defaults.
func (c *Config) PitchSequencerConfig() (pitch.Config, error) {
	pc := pitch.DefaultConfig()
	if c.Pitch.Joint != "" {
		pc.Joint = c.Pitch.Joint
	}
	for name, line := range c.Pitch.Lines {
		kind, err := pitch.ParseGoalKind(name)
		if err != nil {
			return pitch.Config{}, fmt.Errorf("pitch lines: %w", err)
		}
		pc.Lines[kind] = line
	}
	if c.Pitch.PulseMS > 0 {
		pc.Pulse = time.Duration(c.Pitch.PulseMS) * time.Millisecond
	}
	if c.Pitch.BudgetMS > 0 {
		pc.Budget = time.Duration(c.Pitch.BudgetMS) * time.Millisecond
	}
	if c.Pitch.FeedbackMS > 0 {
		pc.FeedbackInterval = time.Duration(c.Pitch.FeedbackMS) * time.Millisecond
	}
	return pc, pc.Validate()
}

// Validate checks motor names and ids.
func (c *Config) Validate() error {
	seen := make(map[int]MotorName, len(c.Motors))
	for name, mc := range c.Motors {
		if !IsMotor(name) {
			return fmt.Errorf("%w: %q", ErrUnknownMotor, name)
		}
		if other, dup := seen[mc.ID]; dup {
			return fmt.Errorf("motors %s and %s share id %d", other, name, mc.ID)
		}
		seen[mc.ID] = name
	}
	if c.ControlHz < 0 {
		return fmt.Errorf("control_hz must not be negative")
	}
	if c.ControlHz > motor.MaxHz {
		return fmt.Errorf("control_hz %d exceeds %d", c.ControlHz, motor.MaxHz)
	}
	return nil
}

// ApplyEnv overrides fields from DAVID_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from path, or the defaults when it does
// not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if ConfigExists(path) {
		var err error
		if cfg, err = LoadConfigFrom(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Motors = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Motors == nil {
		cfg.Motors = DefaultConfig().Motors
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
