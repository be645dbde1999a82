package aubo_arm

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// NumJoints is the axis count of the arm. All trajectories are normalized to
// this many joints in canonical order before use.
const NumJoints = 6

// DefaultJointNames is the canonical joint ordering for the AUBO i5.
var DefaultJointNames = []string{
	"shoulder_joint",
	"upperArm_joint",
	"foreArm_joint",
	"wrist1_joint",
	"wrist2_joint",
	"wrist3_joint",
}

// Waypoint is a single timed joint configuration.
type Waypoint struct {
	Positions     []float64
	Velocities    []float64
	Accelerations []float64
	TimeFromStart time.Duration
}

func (w Waypoint) copy() Waypoint {
	return Waypoint{
		Positions:     append([]float64(nil), w.Positions...),
		Velocities:    append([]float64(nil), w.Velocities...),
		Accelerations: append([]float64(nil), w.Accelerations...),
		TimeFromStart: w.TimeFromStart,
	}
}

// Trajectory is an ordered sequence of waypoints with non-decreasing
// TimeFromStart, plus the joint ordering it was built with. The follower
// replaces trajectories wholesale; nothing mutates one in place.
type Trajectory struct {
	JointNames []string
	Points     []Waypoint
}

// Duration returns the TimeFromStart of the final waypoint.
func (t *Trajectory) Duration() time.Duration {
	if len(t.Points) == 0 {
		return 0
	}
	return t.Points[len(t.Points)-1].TimeFromStart
}

// Sample evaluates the trajectory at elapsed time since its start. Times
// outside the trajectory's span clamp to copies of the endpoint waypoints;
// in between, each joint follows a Hermite cubic through the bracketing
// waypoints' positions and velocities, so position and velocity are
// continuous across segment boundaries. Acceleration may jump at
// boundaries; that is accepted behavior.
func Sample(traj *Trajectory, elapsed time.Duration) Waypoint {
	t := elapsed.Seconds()
	if t <= 0 {
		return traj.Points[0].copy()
	}
	last := len(traj.Points) - 1
	if t >= traj.Points[last].TimeFromStart.Seconds() {
		return traj.Points[last].copy()
	}

	i := 0
	for traj.Points[i+1].TimeFromStart.Seconds() < t {
		i++
	}
	return interpCubic(traj.Points[i], traj.Points[i+1], t)
}

// interpCubic evaluates the cubic uniquely determined by the endpoint
// positions and velocities of the segment [p0, p1] at absolute time tAbs.
func interpCubic(p0, p1 Waypoint, tAbs float64) Waypoint {
	T := (p1.TimeFromStart - p0.TimeFromStart).Seconds()
	if T <= 0 {
		// Coincident waypoints carry no segment to interpolate over.
		return p1.copy()
	}
	t := tAbs - p0.TimeFromStart.Seconds()

	n := len(p0.Positions)
	q := make([]float64, n)
	qdot := make([]float64, n)
	qddot := make([]float64, n)
	for i := 0; i < n; i++ {
		a := p0.Positions[i]
		b := p0.Velocities[i]
		c := (-3*p0.Positions[i] + 3*p1.Positions[i] - 2*T*p0.Velocities[i] - T*p1.Velocities[i]) / (T * T)
		d := (2*p0.Positions[i] - 2*p1.Positions[i] + T*p0.Velocities[i] + T*p1.Velocities[i]) / (T * T * T)

		q[i] = a + b*t + c*t*t + d*t*t*t
		qdot[i] = b + 2*c*t + 3*d*t*t
		qddot[i] = 2*c + 6*d*t
	}
	return Waypoint{
		Positions:     q,
		Velocities:    qdot,
		Accelerations: qddot,
		TimeFromStart: time.Duration(tAbs * float64(time.Second)),
	}
}

// isFinite reports whether every position and velocity in the trajectory is
// a finite number.
func isFinite(traj *Trajectory) bool {
	for _, pt := range traj.Points {
		for _, p := range pt.Positions {
			if math.IsInf(p, 0) || math.IsNaN(p) {
				return false
			}
		}
		for _, v := range pt.Velocities {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// hasVelocities reports whether every waypoint carries one velocity per
// position. All-or-nothing per waypoint.
func hasVelocities(traj *Trajectory) bool {
	for _, pt := range traj.Points {
		if len(pt.Velocities) != len(pt.Positions) {
			return false
		}
	}
	return true
}

// hasLimitedVelocities reports whether every velocity magnitude stays within
// maxVelocity.
func hasLimitedVelocities(traj *Trajectory, maxVelocity float64) bool {
	for _, pt := range traj.Points {
		for _, v := range pt.Velocities {
			if math.Abs(v) > maxVelocity {
				return false
			}
		}
	}
	return true
}

// sameJointSet reports whether the two name lists contain the same joints,
// order-independent.
func sameJointSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[name] = struct{}{}
	}
	for _, name := range b {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}

// reorderJoints returns a new trajectory with every waypoint's per-joint
// arrays rearranged into the given canonical order. The input trajectory is
// left untouched so the caller's goal object is never aliased by retained
// state.
func reorderJoints(traj *Trajectory, jointNames []string) (*Trajectory, error) {
	order := make([]int, len(jointNames))
	for i, name := range jointNames {
		idx := -1
		for j, have := range traj.JointNames {
			if have == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, errors.Errorf("trajectory is missing joint %q", name)
		}
		order[i] = idx
	}

	out := &Trajectory{
		JointNames: append([]string(nil), jointNames...),
		Points:     make([]Waypoint, 0, len(traj.Points)),
	}
	for _, pt := range traj.Points {
		reordered := Waypoint{TimeFromStart: pt.TimeFromStart}
		reordered.Positions = pick(pt.Positions, order)
		reordered.Velocities = pick(pt.Velocities, order)
		reordered.Accelerations = pick(pt.Accelerations, order)
		out.Points = append(out.Points, reordered)
	}
	return out, nil
}

func pick(vals []float64, order []int) []float64 {
	if len(vals) == 0 {
		return nil
	}
	out := make([]float64, len(order))
	for i, idx := range order {
		out[i] = vals[idx]
	}
	return out
}

// withinTolerance reports whether a and b agree element-wise within tol.
func withinTolerance(a, b, tol []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol[i] {
			return false
		}
	}
	return true
}

// uniformTolerances returns a per-joint tolerance vector with every entry
// set to tol.
func uniformTolerances(tol float64) []float64 {
	out := make([]float64, NumJoints)
	for i := range out {
		out[i] = tol
	}
	return out
}

// zeros is a fresh all-zero joint vector.
func zeros() []float64 {
	return make([]float64, NumJoints)
}
