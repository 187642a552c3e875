package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

var (
	// ErrPortClosed is returned when using a port or node after release.
	ErrPortClosed = errors.New("port closed")
	// ErrUnknownMotor is returned for motor names or ids not on the robot.
	ErrUnknownMotor = errors.New("unknown motor")
)

// Port owns the serial bus shared by every motor node on it. The bus stays
// open until the port and every node derived from it have been closed.
type Port struct {
	path string
	bus  *feetech.Bus

	io sync.Mutex // serializes bus transactions

	mu     sync.Mutex
	refs   int
	closed bool // Close called on the port itself
	nodes  map[int]*Node
}

// OpenPort opens the motor bus on a serial port.
func OpenPort(path string, baudRate int) (*Port, error) {
	if baudRate <= 0 {
		baudRate = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     path,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	return &Port{
		path:  path,
		bus:   bus,
		refs:  1,
		nodes: make(map[int]*Node),
	}, nil
}

// Path returns the serial device path.
func (p *Port) Path() string {
	return p.path
}

// Scan returns the nodes answering on ids in [lo, hi].
func (p *Port) Scan(ctx context.Context, lo, hi int) ([]feetech.FoundServo, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	p.io.Lock()
	defer p.io.Unlock()
	found, err := p.bus.Scan(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.path, err)
	}
	return found, nil
}

// Node opens the motor node described by cal, enables it and seeds its
// position from the hardware. The node keeps the port open until closed.
func (p *Port) Node(ctx context.Context, name MotorName, cal MotorCalibration) (*Node, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	n, err := p.initNode(ctx, name, cal)
	if err != nil {
		p.release()
		return nil, err
	}

	p.mu.Lock()
	p.nodes[cal.ID] = n
	p.mu.Unlock()
	return n, nil
}

func (p *Port) initNode(ctx context.Context, name MotorName, cal MotorCalibration) (*Node, error) {
	found, err := p.Scan(ctx, cal.ID, cal.ID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s (id %d) not found on %s", ErrUnknownMotor, name, cal.ID, p.path)
	}

	n := &Node{
		port:  p,
		name:  name,
		cal:   cal,
		servo: feetech.NewServo(p.bus, found[0].ID, found[0].Model),
		group: feetech.NewServoGroupByIDs(p.bus, cal.ID),
	}

	p.io.Lock()
	defer p.io.Unlock()
	raw, err := n.servo.Position(ctx)
	if err == nil {
		err = n.servo.Enable(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", name, err)
	}
	n.pos = cal.Normalize(raw)
	return n, nil
}

// Servo returns an unmanaged handle to a scanned servo, for setup tools
// that drive the bus from a single goroutine.
func (p *Port) Servo(s feetech.FoundServo) *feetech.Servo {
	return feetech.NewServo(p.bus, s.ID, s.Model)
}

// Close releases the port's own reference.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.release()
}

// acquire takes a reference for a new node. It fails once Close has been
// called so no servo is enabled on a port that is shutting down.
func (p *Port) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.refs == 0 {
		return ErrPortClosed
	}
	p.refs++
	return nil
}

func (p *Port) live() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return ErrPortClosed
	}
	return nil
}

func (p *Port) release() error {
	p.mu.Lock()
	p.refs--
	last := p.refs == 0
	p.mu.Unlock()
	if !last {
		return nil
	}
	p.io.Lock()
	defer p.io.Unlock()
	return p.bus.Close()
}

// Node is one motor on a port. Velocity commands are integrated into goal
// positions within the node's calibrated range.
type Node struct {
	port  *Port
	name  MotorName
	cal   MotorCalibration
	servo *feetech.Servo
	group *feetech.ServoGroup

	mu     sync.Mutex
	pos    float64 // normalized [-100, 100]
	last   time.Time
	closed bool
}

// Name returns the motor name.
func (n *Node) Name() MotorName {
	return n.name
}

// SetVelocity advances the goal position by value*MaxSpeed over the time
// since the previous command.
func (n *Node) SetVelocity(ctx context.Context, value float64) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrPortClosed
	}
	now := time.Now()
	if !n.last.IsZero() {
		dt := now.Sub(n.last).Seconds()
		n.pos = integrate(n.pos, value*n.cal.Direction()*n.cal.MaxSpeed, dt)
	}
	n.last = now
	raw := n.cal.Denormalize(n.pos)
	n.mu.Unlock()

	n.port.io.Lock()
	defer n.port.io.Unlock()
	if err := n.group.SetPositions(ctx, feetech.PositionMap{n.cal.ID: raw}); err != nil {
		return fmt.Errorf("write %s: %w", n.name, err)
	}
	return nil
}

// integrate moves pos by speed*dt, clamped to the normalized range.
func integrate(pos, speed, dt float64) float64 {
	return math.Max(-100, math.Min(100, pos+speed*dt))
}

// Position reads the node's normalized position.
func (n *Node) Position(ctx context.Context) (float64, error) {
	n.port.io.Lock()
	raw, err := n.servo.Position(ctx)
	n.port.io.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", n.name, err)
	}
	return n.cal.Normalize(raw), nil
}

// Close disables the node and releases its hold on the port.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.port.io.Lock()
	err := n.servo.Disable(context.Background())
	n.port.io.Unlock()

	n.port.mu.Lock()
	delete(n.port.nodes, n.cal.ID)
	n.port.mu.Unlock()

	if rerr := n.port.release(); err == nil {
		err = rerr
	}
	return err
}
