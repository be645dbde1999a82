package aubo_arm

import (
	"context"
	_ "embed"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/rpc"
)

//go:embed aubo_i5.json
var auboModelJson []byte

var AuboModel = resource.NewModel("devrel", "arm", "aubo-i5")

func init() {
	resource.RegisterComponent(arm.API, AuboModel,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newAuboArm,
		},
	)
}

// createAuboModel loads the embedded AUBO i5 kinematic model.
func createAuboModel() (referenceframe.Model, error) {
	if len(auboModelJson) == 0 {
		return nil, errors.New("no embedded aubo_i5.json kinematic model found")
	}
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     auboModelJson,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(auboModelJson, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal kinematic model json")
	}
	return m.ParseConfig("aubo_i5")
}

// auboArm bridges the viam arm API onto the trajectory follower: moves are
// turned into timed trajectory goals and block until the goal resolves.
type auboArm struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config
	opMgr  *operation.SingleOperationManager

	conn     *Connection
	follower *Follower
	model    referenceframe.Model

	moveLock sync.Mutex

	cancelCtx  context.Context
	cancelFunc func()
}

func newAuboArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	conf.Logger = logger
	return NewAuboArm(ctx, rawConf.ResourceName(), conf, logger)
}

// NewAuboArm wires the shared connection, the follower and the orchestrator
// into an arm resource.
func NewAuboArm(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (arm.Arm, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	conn, err := GetSharedConnection(conf, logger)
	if err != nil {
		cancelFunc()
		return nil, errors.Wrap(err, "failed to initialize robot connection")
	}

	model, err := createAuboModel()
	if err != nil {
		ReleaseSharedConnection(conf.addr())
		cancelFunc()
		return nil, errors.Wrap(err, "failed to create kinematic model")
	}

	a := &auboArm{
		name:       name,
		logger:     logger,
		cfg:        conf,
		opMgr:      operation.NewSingleOperationManager(),
		conn:       conn,
		follower:   NewFollower(conf, nil, logger),
		model:      model,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	a.follower.Start()

	orchestrator := NewOrchestrator(conn, a.follower, logger)
	goutils.PanicCapturingGo(func() {
		orchestrator.Run(cancelCtx)
	})

	logger.Infof("AUBO i5 arm initialized, controller at %s", conf.addr())
	return a, nil
}

func (a *auboArm) Name() resource.Name {
	return a.name
}

func (a *auboArm) NewClientFromConn(ctx context.Context, conn rpc.ClientConn, remoteName string, name resource.Name, logger logging.Logger) (arm.Arm, error) {
	return nil, errors.New("remote client not implemented")
}

// currentPositions is the best available estimate of where the arm is:
// controller-reported joints when streaming, else the last commanded
// setpoint.
func (a *auboArm) currentPositions() []float64 {
	if positions, _, ok := a.conn.LastJointSample(); ok {
		return positions
	}
	sp := a.follower.LastSetpoint()
	if len(sp.Positions) == NumJoints {
		return sp.Positions
	}
	return zeros()
}

func (a *auboArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	pose, err := referenceframe.ComputeOOBPosition(a.model, inputs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute end position")
	}
	return pose, nil
}

func (a *auboArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	return errors.New("cartesian moves require a motion service; use MoveToJointPositions")
}

func (a *auboArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	if len(positions) != NumJoints {
		return errors.Errorf("expected %d joint positions, got %d", NumJoints, len(positions))
	}
	return a.MoveThroughJointPositions(ctx, [][]referenceframe.Input{positions}, nil, extra)
}

func (a *auboArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	if len(positions) == 0 {
		return nil
	}
	ctx, done := a.opMgr.New(ctx)
	defer done()

	a.moveLock.Lock()
	defer a.moveLock.Unlock()

	speed := a.cfg.MaxVelocity
	if options != nil && options.MaxVelRads > 0 && options.MaxVelRads < speed {
		speed = options.MaxVelRads
	}

	traj := trajectoryFromSteps(a.cfg.JointNames, a.currentPositions(), positions, speed)
	result := newGoalResult()
	a.follower.OnGoal(traj, result)

	select {
	case <-ctx.Done():
		a.follower.OnCancel(result)
		<-result.Done()
		return ctx.Err()
	case <-result.Done():
	}

	outcome, reason := result.Result()
	switch outcome {
	case GoalSucceeded:
		return nil
	case GoalRejected:
		return errors.Errorf("trajectory goal rejected: %s", reason)
	case GoalCanceled:
		return errors.New("trajectory goal canceled")
	default:
		return errors.Errorf("trajectory goal ended in unexpected state %s", outcome)
	}
}

// trajectoryFromSteps turns a sequence of joint targets into a timed
// trajectory. Step durations come from the largest joint excursion at the
// given speed; interior velocities are centered finite differences so the
// cubic interpolation stays smooth through each target.
func trajectoryFromSteps(jointNames []string, start []float64, steps [][]referenceframe.Input, speed float64) *Trajectory {
	const minStepSeconds = 0.1

	times := make([]float64, len(steps))
	targets := make([][]float64, len(steps))
	prev := start
	t := 0.0
	for i, step := range steps {
		pos := make([]float64, len(step))
		for j, in := range step {
			pos[j] = float64(in)
		}
		delta := 0.0
		for j := range pos {
			if j < len(prev) {
				if d := math.Abs(pos[j] - prev[j]); d > delta {
					delta = d
				}
			}
		}
		dt := delta / speed
		if dt < minStepSeconds {
			dt = minStepSeconds
		}
		t += dt
		times[i] = t
		targets[i] = pos
		prev = pos
	}

	points := make([]Waypoint, len(steps))
	for i := range steps {
		vel := zeros()
		if i > 0 && i < len(steps)-1 {
			span := times[i+1] - times[i-1]
			for j := 0; j < NumJoints && j < len(targets[i]); j++ {
				vel[j] = (targets[i+1][j] - targets[i-1][j]) / span
			}
		}
		points[i] = Waypoint{
			Positions:     targets[i],
			Velocities:    vel,
			Accelerations: zeros(),
			TimeFromStart: time.Duration(times[i] * float64(time.Second)),
		}
	}
	return &Trajectory{
		JointNames: append([]string(nil), jointNames...),
		Points:     points,
	}
}

func (a *auboArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	positions := a.currentPositions()
	inputs := make([]referenceframe.Input, len(positions))
	for i, p := range positions {
		inputs[i] = referenceframe.Input(p)
	}
	return inputs, nil
}

// Stop cancels the active goal; the follower replaces the trajectory with a
// short deceleration ramp, so the arm coasts to rest instead of halting
// abruptly.
func (a *auboArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.follower.CancelActive()
	return nil
}

func (a *auboArm) IsMoving(ctx context.Context) (bool, error) {
	return a.follower.Moving(), nil
}

func (a *auboArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return a.model, nil
}

func (a *auboArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return nil, errors.New("no 3D mesh models available for the AUBO i5")
}

func (a *auboArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *auboArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *auboArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := a.model.Geometries(inputs)
	if err != nil || gif == nil {
		// conservative base envelope when the model carries no geometry
		box, berr := spatialmath.NewBox(spatialmath.NewZeroPose(), r3.Vector{X: 200, Y: 200, Z: 400}, "aubo_base")
		if berr != nil {
			return nil, berr
		}
		return []spatialmath.Geometry{box}, nil
	}
	return gif.Geometries(), nil
}

func (a *auboArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "connection_state":
		result := map[string]interface{}{
			"state": a.conn.State().String(),
		}
		if state := a.conn.LastState(); state != nil && state.ModeReported {
			result["robot_mode"] = state.Mode.String()
			result["real_robot_enabled"] = state.RealRobotEnabled
			result["power_on_robot"] = state.PowerOnRobot
		}
		return result, nil

	case "prevent_programming":
		enable, ok := cmd["enable"].(bool)
		if !ok {
			return nil, errors.New("prevent_programming command requires 'enable' boolean parameter")
		}
		a.conn.SetPreventProgramming(enable)
		return map[string]interface{}{"prevent_programming": enable}, nil

	case "send_reset_program":
		err := a.conn.SendResetProgram()
		return map[string]interface{}{"success": err == nil}, err

	case "driver_info":
		refCount, _, state := sharedConnections.Status(a.cfg.addr())
		return map[string]interface{}{
			"controller":        a.cfg.addr(),
			"joint_names":       a.cfg.JointNames,
			"max_velocity":      a.cfg.MaxVelocity,
			"connection_state":  state,
			"connection_refs":   refCount,
			"first_waypoint_id": a.follower.FirstWaypointID(),
		}, nil

	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

func (a *auboArm) Close(ctx context.Context) error {
	a.logger.Info("Closing AUBO i5 arm")
	a.cancelFunc()
	a.follower.Close()
	ReleaseSharedConnection(a.cfg.addr())
	return nil
}
