package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/nmtlunabotics/david/pkg/robot"
)

const maxServoID = 10

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	BaudRate    int    `long:"baud" default:"1000000" description:"Motor bus baud rate"`
	Calibration string `long:"calibration" description:"Take motor ranges from a calibration file instead of recording them"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("david setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cal := cfg.Calibration()
	hi := maxServoID
	if ids := cal.MotorIDs(); len(ids) > 0 {
		hi = max(hi, slices.Max(ids))
	}

	bus := findBus(c.BaudRate, hi)
	if bus == nil {
		fmt.Println("No motor bus found.")
		fmt.Println("Make sure the motor controller is connected and powered on.")
		os.Exit(1)
	}
	defer bus.port.Close()

	assigned := assignMotors(bus, cal)
	if len(assigned) == 0 {
		fmt.Println("No motors assigned.")
		os.Exit(1)
	}

	var ranges map[robot.MotorName]motorRange
	if c.Calibration != "" {
		if ranges, err = loadRanges(c.Calibration); err != nil {
			return err
		}
	} else {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Record range of motion ━━━"))
		fmt.Println()
		ranges = recordRanges(bus, assigned)
	}

	cfg.Port = bus.port.Path()
	cfg.BaudRate = c.BaudRate
	cfg.Motors = mergeMotors(cfg.Motors, assigned, ranges)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Drive the robot with: " + headerStyle.Render("david drive"))
	return nil
}

type busInfo struct {
	port   *robot.Port
	servos []feetech.FoundServo
}

// findBus returns the first serial port with servos answering, or nil.
func findBus(baudRate, maxID int) *busInfo {
	fmt.Println("Scanning serial ports for motors...")
	fmt.Println()

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	for _, name := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(name, "Bluetooth") {
			continue
		}
		port, err := robot.OpenPort(name, baudRate)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := port.Scan(ctx, 1, maxID)
		cancel()
		if err != nil || len(servos) == 0 {
			port.Close()
			continue
		}

		fmt.Printf("  Found %d motor(s) on %s\n", len(servos), name)
		return &busInfo{port: port, servos: servos}
	}
	return nil
}

// assignMotors asks which motor each scanned servo drives. The motor
// currently configured for a servo id is preselected.
func assignMotors(bus *busInfo, cal robot.Calibration) map[robot.MotorName]feetech.FoundServo {
	assigned := make(map[robot.MotorName]feetech.FoundServo)

	for _, s := range bus.servos {
		var options []huh.Option[string]
		for _, name := range robot.AllMotors() {
			if _, taken := assigned[name]; !taken {
				options = append(options, huh.NewOption(string(name), string(name)))
			}
		}
		if len(options) == 0 {
			break
		}
		options = append(options, huh.NewOption("Skip this motor", "skip"))

		model := fmt.Sprintf("model %d", s.ModelNumber)
		if s.Model != nil {
			model = s.Model.Name
		}
		var choice string
		if name, _, ok := cal.ByID(s.ID); ok {
			if _, taken := assigned[name]; !taken {
				choice = string(name)
			}
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title(fmt.Sprintf("Which motor is servo %d?", s.ID)).
					Description(fmt.Sprintf("%s on %s", model, bus.port.Path())).
					Options(options...).
					Value(&choice),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		if choice != "skip" {
			assigned[robot.MotorName(choice)] = s
		}
	}
	return assigned
}

type motorRange struct {
	min, max int
}

// loadRanges reads motor ranges from a calibration file.
func loadRanges(path string) (map[robot.MotorName]motorRange, error) {
	cal, err := robot.LoadCalibration(path)
	if err != nil {
		return nil, err
	}
	ranges := make(map[robot.MotorName]motorRange, len(cal))
	for name, mc := range cal {
		ranges[name] = motorRange{min: mc.RangeMin, max: mc.RangeMax}
	}
	return ranges, nil
}

// recordRanges disables the assigned servos and tracks their positions
// while the user moves each mechanism through its travel.
func recordRanges(bus *busInfo, assigned map[robot.MotorName]feetech.FoundServo) map[robot.MotorName]motorRange {
	ctx := context.Background()

	var motors []robot.MotorName
	servos := make(map[robot.MotorName]*feetech.Servo, len(assigned))
	for _, name := range robot.AllMotors() {
		s, ok := assigned[name]
		if !ok {
			continue
		}
		motors = append(motors, name)
		servos[name] = bus.port.Servo(s)
		servos[name].Disable(ctx)
	}

	fmt.Println("Move each mechanism to its minimum AND maximum positions.")
	fmt.Println()

	cur := make(map[robot.MotorName]int)
	ranges := make(map[robot.MotorName]motorRange)
	for _, name := range motors {
		pos, _ := servos[name].Position(ctx)
		cur[name] = pos
		ranges[name] = motorRange{min: pos, max: pos}
	}

	p := tea.NewProgram(calibrationModel{motors: motors, servos: servos, cur: cur, ranges: ranges})
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}
	return finalModel.(calibrationModel).ranges
}

// mergeMotors applies the new assignments. Unassigned motors keep their
// entry unless their id now belongs to an assigned motor.
func mergeMotors(existing map[robot.MotorName]robot.MotorConfig, assigned map[robot.MotorName]feetech.FoundServo, ranges map[robot.MotorName]motorRange) map[robot.MotorName]robot.MotorConfig {
	taken := make(map[int]bool, len(assigned))
	for _, s := range assigned {
		taken[s.ID] = true
	}

	motors := make(map[robot.MotorName]robot.MotorConfig, len(existing))
	for name, mc := range existing {
		if _, ok := assigned[name]; !ok && !taken[mc.ID] {
			motors[name] = mc
		}
	}
	for name, s := range assigned {
		mc := existing[name]
		mc.ID = s.ID
		// Keep the previous range when the mechanism was barely moved.
		if r := ranges[name]; r.max-r.min > 100 {
			mc.RangeMin, mc.RangeMax = r.min, r.max
		}
		motors[name] = mc
	}
	return motors
}

// Calibration TUI model
type calibrationModel struct {
	motors   []robot.MotorName
	servos   map[robot.MotorName]*feetech.Servo
	cur      map[robot.MotorName]int
	ranges   map[robot.MotorName]motorRange
	quitting bool
}

type tickMsg time.Time

func calibrationTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return calibrationTick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for _, name := range m.motors {
			pos, err := m.servos[name].Position(ctx)
			if err != nil {
				continue
			}
			m.cur[name] = pos
			r := m.ranges[name]
			r.min, r.max = min(r.min, pos), max(r.max, pos)
			m.ranges[name] = r
		}
		return m, calibrationTick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	headerCell := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	motorCell := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	currentCell := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	goodCell := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	lowCell := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	spans := make([]int, 0, len(m.motors))
	for _, name := range m.motors {
		r := m.ranges[name]
		spans = append(spans, r.max-r.min)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.cur[name]),
			fmt.Sprintf("%d", r.min),
			fmt.Sprintf("%d", r.max),
			fmt.Sprintf("%d", r.max-r.min),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			switch col {
			case 0:
				return motorCell
			case 1:
				return currentCell
			case 4:
				if row >= 0 && row < len(spans) && spans[row] > 500 {
					return goodCell
				}
				return lowCell
			default:
				return cell
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))
	return sb.String()
}
