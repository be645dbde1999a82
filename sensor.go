// sensor.go - AUBO robot state sensor component
package aubo_arm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	AuboStateSensorModel = resource.NewModel("devrel", "aubo", "robot-state")
)

func init() {
	resource.RegisterComponent(sensor.API, AuboStateSensorModel,
		resource.Registration[sensor.Sensor, *AuboStateSensorConfig]{
			Constructor: NewAuboStateSensor,
		},
	)
}

// AuboStateSensorConfig represents the configuration for the robot state sensor
type AuboStateSensorConfig struct {
	// Controller configuration (shared with the arm)
	Host    string        `json:"host"`
	Port    int           `json:"port,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *AuboStateSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Host == "" {
		return nil, nil, errors.New("must specify host of the robot controller")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultStatePort
	}
	return nil, nil, nil
}

// auboStateSensor exposes the controller's state stream as sensor readings.
// It shares the arm's connection when one is configured against the same
// controller, so adding the sensor never opens a second state socket.
type auboStateSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config
	conn   *Connection
}

// NewAuboStateSensor creates a new AUBO robot state sensor
func NewAuboStateSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*AuboStateSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	connConfig := &Config{
		Host:    conf.Host,
		Port:    conf.Port,
		Timeout: conf.Timeout,
		Logger:  logger,
	}
	if _, _, err := connConfig.Validate(""); err != nil {
		return nil, err
	}

	conn, err := GetSharedConnection(connConfig, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get shared robot connection")
	}

	s := &auboStateSensor{
		name:   rawConf.ResourceName(),
		logger: logger,
		cfg:    connConfig,
		conn:   conn,
	}

	logger.Infof("AUBO state sensor initialized, controller at %s", connConfig.addr())
	return s, nil
}

// Name returns the sensor's name
func (s *auboStateSensor) Name() resource.Name {
	return s.name
}

func (s *auboStateSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	readings := map[string]any{
		"connection_state": s.conn.State().String(),
	}

	state := s.conn.LastState()
	if state == nil {
		return readings, nil
	}

	if state.ModeReported {
		readings["robot_mode"] = state.Mode.String()
		readings["real_robot_enabled"] = state.RealRobotEnabled
		readings["power_on_robot"] = state.PowerOnRobot
		readings["controller_timestamp"] = state.Timestamp
	}
	if len(state.UnknownTypes) > 0 {
		readings["unknown_packet_types"] = len(state.UnknownTypes)
	}

	if positions, velocities, ok := s.conn.LastJointSample(); ok {
		jointInfo := make(map[string]any)
		for i, name := range s.cfg.JointNames {
			if i >= len(positions) {
				break
			}
			joint := map[string]any{
				"position": positions[i],
			}
			if i < len(velocities) {
				joint["velocity"] = velocities[i]
			}
			jointInfo[name] = joint
		}
		readings["joints"] = jointInfo
	}

	return readings, nil
}

func (s *auboStateSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "connection_status":
		refCount, exists, state := sharedConnections.Status(s.cfg.addr())
		return map[string]interface{}{
			"controller": s.cfg.addr(),
			"shared":     exists,
			"refs":       refCount,
			"state":      state,
		}, nil
	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *auboStateSensor) Close(ctx context.Context) error {
	ReleaseSharedConnection(s.cfg.addr())
	return nil
}
