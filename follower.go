package aubo_arm

import (
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

const (
	// updatePeriod is the fixed control-loop rate.
	updatePeriod = 5 * time.Millisecond

	// stopDuration is how long a canceled goal gets to decelerate to rest.
	stopDuration = 500 * time.Millisecond

	// Completion tolerances checked once the trajectory has been fully sent.
	successPositionTol = 0.1  // rad
	successVelocityTol = 0.05 // rad/s
)

// ServoCommander is the slice of the device connection the follower needs:
// a way to push setpoints and a way to read back what the arm reports.
type ServoCommander interface {
	SendServoJ(positions []float64, dt time.Duration) error
	LastJointSample() (positions, velocities []float64, ok bool)
}

// JointStateSample is one telemetry observation at the control-loop rate.
type JointStateSample struct {
	Timestamp  time.Time
	Names      []string
	Positions  []float64
	Velocities []float64
	Efforts    []float64
}

// TelemetryPublisher receives joint-state samples. Best effort; the follower
// never waits on it.
type TelemetryPublisher interface {
	PublishJointState(sample JointStateSample)
}

// TelemetryPublisherFunc adapts a function to TelemetryPublisher.
type TelemetryPublisherFunc func(sample JointStateSample)

func (f TelemetryPublisherFunc) PublishJointState(sample JointStateSample) { f(sample) }

// Follower owns the active trajectory and tracks it against wall-clock time
// on a fixed-period loop. Goals come in through OnGoal/OnCancel; the
// orchestrator rebinds it to a connection through SetRobot. All trajectory
// state is guarded by one mutex shared between the goal entry points and the
// control loop.
type Follower struct {
	logger         logging.Logger
	jointNames     []string
	maxVelocity    float64
	goalTolerances []float64
	publisher      TelemetryPublisher

	mu              sync.Mutex
	robot           ServoCommander
	traj            *Trajectory
	trajT0          time.Time
	goal            GoalHandle
	goalPoints      int
	firstWaypointID int64
	lastPointSent   bool
	lastSetpoint    Waypoint

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFollower builds a follower from a validated config. publisher may be
// nil.
func NewFollower(cfg *Config, publisher TelemetryPublisher, logger logging.Logger) *Follower {
	return &Follower{
		logger:          logger,
		jointNames:      append([]string(nil), cfg.JointNames...),
		maxVelocity:     cfg.MaxVelocity,
		goalTolerances:  append([]float64(nil), cfg.GoalTolerances...),
		publisher:       publisher,
		firstWaypointID: 10,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start initializes the hold trajectory and begins the control loop.
func (f *Follower) Start() {
	f.mu.Lock()
	f.initHoldTrajLocked(time.Now())
	f.mu.Unlock()

	goutils.PanicCapturingGo(func() {
		defer close(f.done)
		ticker := time.NewTicker(updatePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case now := <-ticker.C:
				f.update(now)
			}
		}
	})
}

// Close stops the control loop and cancels any active goal.
func (f *Follower) Close() {
	f.closeOnce.Do(func() {
		close(f.stop)
		<-f.done
		f.mu.Lock()
		if f.goal != nil {
			f.goal.SetCanceled()
			f.goal = nil
		}
		f.mu.Unlock()
	})
}

// SetRobot rebinds the follower to a connection (nil to unbind). Any active
// goal is canceled immediately, without a deceleration ramp, and the
// follower falls back to holding its current position.
func (f *Follower) SetRobot(robot ServoCommander) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.goal != nil {
		f.goal.SetCanceled()
		f.goal = nil
	}
	f.robot = robot
	f.initHoldTrajLocked(time.Now())
}

// initHoldTrajLocked replaces the trajectory with a single zero-velocity
// point anchored at now: the arm's reported position if available, else the
// last commanded setpoint, else zero. Caller holds f.mu.
func (f *Follower) initHoldTrajLocked(now time.Time) {
	hold := zeros()
	if f.robot != nil {
		if positions, _, ok := f.robot.LastJointSample(); ok {
			hold = append([]float64(nil), positions...)
		} else if len(f.lastSetpoint.Positions) == NumJoints {
			hold = append([]float64(nil), f.lastSetpoint.Positions...)
		}
	} else if len(f.lastSetpoint.Positions) == NumJoints {
		hold = append([]float64(nil), f.lastSetpoint.Positions...)
	}
	f.traj = &Trajectory{
		JointNames: f.jointNames,
		Points: []Waypoint{{
			Positions:     hold,
			Velocities:    zeros(),
			Accelerations: zeros(),
			TimeFromStart: 0,
		}},
	}
	f.trajT0 = now
	f.lastPointSent = false
}

// OnGoal validates an incoming trajectory goal and, if acceptable, installs
// it as the active trajectory. A goal already in flight is canceled and the
// new trajectory is spliced to start from the current interpolated setpoint,
// so the arm never sees a positional jump.
func (f *Follower) OnGoal(goal *Trajectory, h GoalHandle) {
	f.logger.Debug("on_goal")

	f.mu.Lock()
	robot := f.robot
	f.mu.Unlock()
	if robot == nil {
		f.logger.Error("Received a goal, but the robot is not connected")
		h.SetRejected("robot is not connected")
		return
	}

	if !sameJointSet(goal.JointNames, f.jointNames) {
		f.logger.Errorf("Received a goal with incorrect joint names: %v", goal.JointNames)
		h.SetRejected("incorrect joint names")
		return
	}
	if len(goal.Points) == 0 {
		f.logger.Error("Received a goal with an empty trajectory")
		h.SetRejected("empty trajectory")
		return
	}
	if !isFinite(goal) {
		f.logger.Error("Received a goal with infinities or NaNs")
		h.SetRejected("trajectory contains non-finite values")
		return
	}
	if !hasVelocities(goal) {
		f.logger.Error("Received a goal without velocities")
		h.SetRejected("trajectory has no velocities")
		return
	}
	if !hasLimitedVelocities(goal, f.maxVelocity) {
		f.logger.Errorf("Received a goal with velocities that are higher than %f", f.maxVelocity)
		h.SetRejected("trajectory velocities exceed limit")
		return
	}

	reordered, err := reorderJoints(goal, f.jointNames)
	if err != nil {
		h.SetRejected(err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.goal != nil {
		// Cancels the existing goal; its installed points, continuity point
		// included, stay accounted for in the waypoint id offset.
		f.goal.SetCanceled()
		f.firstWaypointID += int64(f.goalPoints)
		f.goal = nil
	}

	// Inserts the current setpoint at the head of the trajectory.
	now := time.Now()
	point0 := Sample(f.traj, now.Sub(f.trajT0))
	point0.TimeFromStart = 0
	points := make([]Waypoint, 0, len(reordered.Points)+1)
	points = append(points, point0)
	points = append(points, reordered.Points...)

	f.traj = &Trajectory{JointNames: f.jointNames, Points: points}
	f.trajT0 = now
	f.goal = h
	f.goalPoints = len(points)
	f.lastPointSent = false
	h.SetAccepted()
}

// OnCancel cancels the goal behind h. For the active goal the trajectory is
// replaced by a short two-point ramp that decelerates to rest over
// stopDuration; a stale handle is simply marked canceled.
func (f *Follower) OnCancel(h GoalHandle) {
	f.logger.Debug("on_cancel")
	if h == nil {
		return
	}

	f.mu.Lock()
	if h == f.goal {
		// Uses the next little bit of trajectory to slow to a stop.
		now := time.Now()
		elapsed := now.Sub(f.trajT0)
		point0 := Sample(f.traj, elapsed)
		point0.TimeFromStart = 0
		point1 := Sample(f.traj, elapsed+stopDuration)
		point1.Velocities = zeros()
		point1.Accelerations = zeros()
		point1.TimeFromStart = stopDuration

		f.trajT0 = now
		f.traj = &Trajectory{JointNames: f.jointNames, Points: []Waypoint{point0, point1}}
		f.lastPointSent = false
		f.goal.SetCanceled()
		f.goal = nil
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	h.SetCanceled()
}

// CancelActive cancels whatever goal is currently active, if any.
func (f *Follower) CancelActive() {
	f.mu.Lock()
	h := f.goal
	f.mu.Unlock()
	if h != nil {
		f.OnCancel(h)
	}
}

// update runs one control tick.
func (f *Follower) update(now time.Time) {
	var sample *JointStateSample

	f.mu.Lock()
	if f.traj == nil || len(f.traj.Points) == 0 {
		f.mu.Unlock()
		return
	}
	elapsed := now.Sub(f.trajT0)
	span := f.traj.Duration()

	switch {
	case elapsed <= span:
		// sending intermediate points
		f.lastPointSent = false
		sp := Sample(f.traj, elapsed)
		f.lastSetpoint = sp
		sample = f.telemetryLocked(now, sp)
		if f.robot != nil {
			// a failed send is retried next tick with a fresher sample
			_ = f.robot.SendServoJ(sp.Positions, 4*updatePeriod)
		}

	case !f.lastPointSent:
		// All intermediate points sent; send the last point once to make
		// sure the arm actually reaches the goal.
		last := f.traj.Points[len(f.traj.Points)-1]
		if positions, velocities, ok := f.jointSampleLocked(); ok {
			if !withinTolerance(positions, last.Positions, f.goalTolerances) {
				f.logger.Warn("Trajectory time exceeded and current robot state not at goal, last point required")
				f.logger.Warnf("Current trajectory time: %v, last point time: %v", elapsed, span)
				f.logger.Warnf("Desired: %v actual: %v velocity: %v", last.Positions, positions, velocities)
			}
		}
		sp := Sample(f.traj, span)
		f.lastSetpoint = sp
		sample = f.telemetryLocked(now, sp)
		if f.robot != nil {
			if err := f.robot.SendServoJ(sp.Positions, 4*updatePeriod); err == nil {
				f.lastPointSent = true
			}
		} else {
			f.lastPointSent = true
		}

	default:
		// Off the end; wait for the arm to settle onto the goal.
		if f.goal == nil {
			break
		}
		positions, velocities, ok := f.jointSampleLocked()
		if !ok {
			break
		}
		last := f.traj.Points[len(f.traj.Points)-1]
		positionInTol := withinTolerance(positions, last.Positions, uniformTolerances(successPositionTol))
		velocityInTol := withinTolerance(velocities, last.Velocities, uniformTolerances(successVelocityTol))
		if positionInTol && velocityInTol {
			// The arm reached the goal and isn't moving.
			f.goal.SetSucceeded()
			f.goal = nil
		}
		// No timeout-based abort: a goal only resolves by reaching
		// tolerance, being canceled, or being superseded.
	}
	f.mu.Unlock()

	if sample != nil && f.publisher != nil {
		f.publisher.PublishJointState(*sample)
	}
}

// jointSampleLocked returns the arm's reported joint state, if a connection
// is bound and has seen joint data. Caller holds f.mu.
func (f *Follower) jointSampleLocked() ([]float64, []float64, bool) {
	if f.robot == nil {
		return nil, nil, false
	}
	return f.robot.LastJointSample()
}

func (f *Follower) telemetryLocked(now time.Time, sp Waypoint) *JointStateSample {
	if f.publisher == nil {
		return nil
	}
	return &JointStateSample{
		Timestamp:  now,
		Names:      append([]string(nil), f.jointNames...),
		Positions:  append([]float64(nil), sp.Positions...),
		Velocities: append([]float64(nil), sp.Velocities...),
		Efforts:    zeros(),
	}
}

// LastSetpoint returns the most recently sampled setpoint.
func (f *Follower) LastSetpoint() Waypoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSetpoint.copy()
}

// Moving reports whether the follower is actively tracking a trajectory or
// waiting on a goal to settle.
func (f *Follower) Moving() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.goal != nil {
		return true
	}
	if f.traj == nil {
		return false
	}
	return time.Since(f.trajT0) <= f.traj.Duration()
}

// FirstWaypointID returns the external point-indexing offset, advanced each
// time a goal is superseded.
func (f *Follower) FirstWaypointID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstWaypointID
}

// JointNames returns the canonical joint ordering.
func (f *Follower) JointNames() []string {
	return append([]string(nil), f.jointNames...)
}
