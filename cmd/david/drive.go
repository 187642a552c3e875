package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/nmtlunabotics/david/internal/log"
	"github.com/nmtlunabotics/david/pkg/drive"
	"github.com/nmtlunabotics/david/pkg/robot"
	"github.com/nmtlunabotics/david/pkg/teleop"
)

type DriveCommand struct {
	Hz      int    `long:"hz" description:"Control loop frequency (default from config)"`
	LogFile string `long:"log-file" default:"david.log" description:"Log file while the UI is active"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

var wheelColors = []string{"196", "46", "226", "51", "208", "201", "12"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type driveModel struct {
	ctrl        *teleop.Controller
	wheels      []drive.Wheel
	chart       *streamlinechart.Model
	width       int
	height      int
	logs        []string
	nav         drive.Vector
	err         error
	quitting    bool
	lastTargets map[robot.MotorName]float64
}

func (m *driveModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// changed reports whether any wheel target differs from the last state.
func (m *driveModel) changed(targets map[robot.MotorName]float64) bool {
	if m.lastTargets == nil {
		return true
	}
	for _, w := range m.wheels {
		name := robot.MotorName(w.Name)
		if last, ok := m.lastTargets[name]; !ok || targets[name] != last {
			return true
		}
	}
	return false
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *driveModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *driveModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialDriveModel(ctrl *teleop.Controller) driveModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-1.5, 1.5),
	)

	wheels := ctrl.Dispatcher().Wheels()
	for i, w := range wheels {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(wheelColor(i)))
		chart.SetDataSetStyles(w.Name, runes.ThinLineStyle, style)
	}

	return driveModel{
		ctrl:   ctrl,
		wheels: wheels,
		chart:  &chart,
	}
}

func wheelColor(i int) string {
	return wheelColors[i%len(wheelColors)]
}

func (m driveModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case " ":
			m.ctrl.Dispatcher().Stop()
			m.addLog("Stop")
			return m, nil
		}
		if e, ok := drive.EventForKey(msg.String()); ok && m.ctrl.Handle(e) {
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := teleop.State(msg)
		m.nav, m.err = state.Nav, state.Error
		if state.Targets != nil && m.changed(state.Targets) {
			for _, w := range m.wheels {
				m.chart.PushDataSet(w.Name, state.Targets[robot.MotorName(w.Name)])
			}
			m.chart.DrawAll()
			m.lastTargets = state.Targets
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m driveModel) View() string {
	if m.quitting {
		return "Driving stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("david drive"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  nav (%.0f, %.0f)", m.nav.X, m.nav.Y)))
	if m.err != nil {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("  " + m.err.Error()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Arrows or WASD to drive, space to stop, 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m driveModel) renderLegend() string {
	var items []string
	for i, w := range m.wheels {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(wheelColor(i))).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+w.Name)
	}
	return strings.Join(items, "  ")
}

func (c *DriveCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The UI owns the terminal; logs go to a file.
	logFile, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	configureLog(cfg, logFile)
	logger := log.WithComponent("drive")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := robot.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open robot: %w", err)
	}
	defer r.Close()

	hz := cfg.ControlHz
	if c.Hz > 0 {
		hz = c.Hz
	}
	ctrl, err := teleop.NewController(r, teleop.Config{Hz: hz, Log: logger})
	if err != nil {
		return err
	}
	if len(ctrl.Dispatcher().Wheels()) == 0 {
		fmt.Fprintln(os.Stderr, "No drive motors configured. Set \"drive\": true in "+opts.Config)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("controller stopped")
		}
	}()

	p := tea.NewProgram(initialDriveModel(ctrl), tea.WithAltScreen())
	_, err = p.Run()

	ctrl.Stop()
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
