package aubo_arm

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// ConnectionState tracks where the link to the controller is in its
// lifecycle. Transitions are driven only by decoded state packets and the
// explicit program-send calls.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateReadyToProgram
	StateExecuting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReadyToProgram:
		return "ready_to_program"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

const (
	readChunkSize = 4096

	// The controller streams state at 10 Hz; a full second of silence means
	// the link is dead. The deadline also keeps shutdown responsive.
	readTimeout = time.Second

	unknownWarnPeriod = time.Second
)

// warnThrottle rate-limits a repeating warning.
type warnThrottle struct {
	period time.Duration
	last   time.Time
}

func (w *warnThrottle) allow(now time.Time) bool {
	if now.Sub(w.last) < w.period {
		return false
	}
	w.last = now
	return true
}

// Connection owns the TCP socket to the robot controller and the read loop
// that decodes its state stream. Reconnection after a drop is the
// orchestrator's job; nothing here retries automatically.
type Connection struct {
	addr        string
	program     string
	dialTimeout time.Duration
	offsets     []float64 // canonical-order calibration offsets, may be nil
	logger      logging.Logger

	fatalOnce sync.Once
	fatal     func(msg string)

	mu                 sync.Mutex
	conn               net.Conn
	state              ConnectionState
	lastState          *RobotState
	preventProgramming bool
	disabled           bool
	readStop           chan struct{}
	readDone           chan struct{}
	unknownWarn        warnThrottle

	stateCh chan ConnectionState
}

// NewConnection builds a connection for the given controller endpoint. The
// program is uploaded by SendProgram once the controller reports ready.
func NewConnection(addr, program string, timeout time.Duration, offsets []float64, logger logging.Logger) *Connection {
	c := &Connection{
		addr:        addr,
		program:     program,
		dialTimeout: timeout,
		offsets:     offsets,
		logger:      logger,
		state:       StateDisconnected,
		unknownWarn: warnThrottle{period: unknownWarnPeriod},
		stateCh:     make(chan ConnectionState, 16),
	}
	c.fatal = func(msg string) {
		logger.Error(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
	return c
}

// SetFatalHandler replaces the handler invoked when the hardware reports the
// real robot disabled. The default logs and exits the process; tests inject
// their own.
func (c *Connection) SetFatalHandler(f func(msg string)) {
	c.fatal = f
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateChanges returns a channel carrying every connection state
// transition, in order. The channel is buffered; a slow consumer loses the
// oldest notifications, never blocks the read loop.
func (c *Connection) StateChanges() <-chan ConnectionState {
	return c.stateCh
}

// LastState returns the most recently decoded robot state, or nil.
func (c *Connection) LastState() *RobotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastState
}

// LastJointSample returns the latest controller-reported joint positions and
// velocities in calibrated joint space.
func (c *Connection) LastJointSample() ([]float64, []float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastState == nil || c.lastState.Joints == nil {
		return nil, nil, false
	}
	positions := append([]float64(nil), c.lastState.Joints.Positions...)
	for i := range positions {
		if i < len(c.offsets) {
			positions[i] -= c.offsets[i]
		}
	}
	velocities := append([]float64(nil), c.lastState.Joints.Velocities...)
	return positions, velocities, true
}

// SetPreventProgramming toggles the safety flag that turns SendProgram into
// a logged no-op.
func (c *Connection) SetPreventProgramming(prevent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preventProgramming = prevent
}

// Connect opens the socket and starts the read loop. If already connected it
// disconnects first, so reconnection is idempotent.
func (c *Connection) Connect() error {
	c.mu.Lock()
	alreadyConnected := c.conn != nil
	c.mu.Unlock()
	if alreadyConnected {
		c.Disconnect()
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to robot controller at %s", c.addr)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.readStop = stop
	c.readDone = done
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Infof("Connected to robot controller at %s", c.addr)
	goutils.PanicCapturingGo(func() {
		c.readLoop(conn, stop, done)
	})
	return nil
}

// Disconnect stops the read loop, joins it, closes the socket and resets
// state. Safe to call when already disconnected.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	stop, done, conn := c.readStop, c.readDone, c.conn
	c.readStop, c.readDone, c.conn = nil, nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.lastState = nil
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

// SendProgram uploads the controller program and moves the link to
// Executing. Requires the controller to be ready; a no-op while programming
// is prevented.
func (c *Connection) SendProgram() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return errors.New("robot disabled, refusing to program")
	}
	if c.preventProgramming {
		c.logger.Info("Programming is currently prevented")
		return nil
	}
	if c.state != StateReadyToProgram && c.state != StateExecuting {
		return errors.Errorf("cannot program robot in state %s", c.state)
	}
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.logger.Infof("Programming the robot at %s", c.addr)
	if _, err := c.conn.Write([]byte(c.program)); err != nil {
		return errors.Wrap(err, "failed to send program")
	}
	c.setStateLocked(StateExecuting)
	return nil
}

// SendResetProgram uploads the minimal idle program, keeping the link alive
// without commanding motion.
func (c *Connection) SendResetProgram() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	if _, err := c.conn.Write([]byte(resetProgram)); err != nil {
		return errors.Wrap(err, "failed to send reset program")
	}
	c.setStateLocked(StateReadyToProgram)
	return nil
}

// SendServoJ writes one servo setpoint. Fire and forget: a failed write is
// returned but the caller is expected to swallow it and let the next control
// tick retry with a fresher sample.
func (c *Connection) SendServoJ(positions []float64, dt time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return errors.New("robot disabled, refusing to command motion")
	}
	if c.conn == nil {
		return errors.New("not connected")
	}

	cmd := make([]float64, len(positions))
	copy(cmd, positions)
	for i := range cmd {
		if i < len(c.offsets) {
			cmd[i] += c.offsets[i]
		}
	}

	var b strings.Builder
	b.WriteString("servoj([")
	for i, p := range cmd {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.6f", p)
	}
	fmt.Fprintf(&b, "], t=%.4f)\n", dt.Seconds())

	_, err := c.conn.Write([]byte(b.String()))
	return err
}

// setStateLocked updates the state and pushes the transition to observers.
// Caller holds c.mu.
func (c *Connection) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.stateCh <- s:
	default:
		// drop oldest so the newest transition always fits
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

func (c *Connection) readLoop(conn net.Conn, stop, done chan struct{}) {
	defer close(done)

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.triggerDisconnected(stop, err)
			return
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			frames, rest, ferr := extractFrames(buf)
			for _, frame := range frames {
				if perr := c.onFrame(frame); perr != nil {
					c.triggerDisconnected(stop, perr)
					return
				}
			}
			if ferr != nil {
				// Framing that can never make progress; the link is done.
				c.triggerDisconnected(stop, ferr)
				return
			}
			buf = append(buf[:0:0], rest...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// the state stream went silent for a full window
				c.triggerDisconnected(stop, errors.New("state stream timed out"))
				return
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("connection closed by robot")
			}
			c.triggerDisconnected(stop, err)
			return
		}
	}
}

// triggerDisconnected records a read-loop failure. If the loop was asked to
// stop, the failure is expected and stays quiet; Disconnect handles state.
func (c *Connection) triggerDisconnected(stop chan struct{}, err error) {
	select {
	case <-stop:
		return
	default:
	}
	c.logger.Warnf("Robot disconnected: %v", err)
	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// onFrame decodes one wire frame and applies it to the state machine.
func (c *Connection) onFrame(frame []byte) error {
	state, err := decodeRobotState(frame)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	c.mu.Lock()
	c.lastState = state

	// A frame without mode data (joint data only) carries nothing for the
	// interlock or the state machine.
	if state.ModeReported {
		if !state.RealRobotEnabled {
			c.disabled = true
			c.mu.Unlock()
			c.fatalOnce.Do(func() {
				c.fatal("Real robot is no longer enabled. Stopping all motion commands.")
			})
			return nil
		}

		canExec := state.Mode.canExecute()
		switch c.state {
		case StateConnected:
			if canExec {
				c.logger.Info("Robot ready to program")
				c.setStateLocked(StateReadyToProgram)
			}
		case StateReadyToProgram:
			if !canExec {
				c.setStateLocked(StateConnected)
			}
		case StateExecuting:
			if !canExec {
				c.logger.Warn("Robot halted")
				c.setStateLocked(StateConnected)
			}
		}
	}

	if len(state.UnknownTypes) > 0 && c.unknownWarn.allow(time.Now()) {
		types := append([]byte(nil), state.UnknownTypes...)
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		c.logger.Warnf("Ignoring unknown packet type(s): %v. Please report.", types)
	}
	c.mu.Unlock()
	return nil
}
