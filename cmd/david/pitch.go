package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nmtlunabotics/david/internal/log"
	"github.com/nmtlunabotics/david/pkg/pitch"
	"github.com/nmtlunabotics/david/pkg/robot"
)

const barWidth = 40

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	angleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type PitchCommand struct {
	Args struct {
		Kind string `positional-arg-name:"kind" description:"home, extend, retract, half_extend or 0-3"`
	} `positional-args:"yes" required:"yes"`
}

// printPublisher prints the joint state instead of publishing it.
type printPublisher struct{}

func (printPublisher) PublishJointState(_ context.Context, js pitch.JointState) error {
	fmt.Printf("\n%s %s\n", js.Name, angleStyle.Render(fmt.Sprintf("%.4f rad", js.Angle)))
	return nil
}

func (c *PitchCommand) Execute(args []string) error {
	kind, err := pitch.ParseGoalKind(c.Args.Kind)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLog(cfg, nil)
	logger := log.WithComponent("pitch")

	pc, err := cfg.PitchSequencerConfig()
	if err != nil {
		return err
	}

	trigger, closeTrigger, err := openTrigger(cfg, pc)
	if err != nil {
		return err
	}
	defer closeTrigger()

	seq, err := pitch.NewSequencer(pc, trigger, printPublisher{}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	goal := pitch.NewGoal(kind)
	fmt.Printf("%s %s (budget %s)\n", titleStyle.Render("pitch"), kind, pc.Budget)

	err = seq.Execute(ctx, goal, func(fb pitch.Feedback) {
		fmt.Printf("\r%s %3.0f%% %s", renderBar(fb.Progress), fb.Progress*100, statusStyle.Render(fb.Elapsed.Truncate(100*time.Millisecond).String()))
	})
	if err != nil {
		fmt.Println()
		fmt.Println(errorStyle.Render(err.Error()))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

func renderBar(p float64) string {
	n := int(p * barWidth)
	return barStyle.Render(strings.Repeat("█", n)) + statusStyle.Render(strings.Repeat("░", barWidth-n))
}

// openTrigger opens the trigger lines the sequencer uses.
func openTrigger(cfg *robot.Config, pc pitch.Config) (pitch.Trigger, func() error, error) {
	if cfg.DryRun {
		return robot.NewSimLines(), func() error { return nil }, nil
	}
	lines := make([]int, 0, len(pc.Lines))
	for _, line := range pc.Lines {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	l, err := robot.OpenLines(lines...)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}
