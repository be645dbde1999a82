package aubo_arm

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.viam.com/rdk/logging"
)

// Defaults mirror what the controller firmware expects.
const (
	DefaultStatePort   = 11211 // 10 Hz robot state stream
	DefaultReversePort = 50001 // servo intake channel opened by the uploaded program

	// DefaultMaxVelocity is deliberately high so trajectories from an
	// upstream planner are not clipped here; real limits live in the
	// planner.
	DefaultMaxVelocity = 10.0 // rad/s

	// DefaultGoalTolerance is the per-joint position tolerance checked when
	// a trajectory runs out of time.
	DefaultGoalTolerance = 0.05 // rad
)

type Config struct {
	// TCP endpoint of the robot controller's state stream.
	Host string `json:"host"`
	Port int    `json:"port,omitempty"` // default 11211

	// Port on the driver side the uploaded program connects back to.
	ReversePort int `json:"reverse_port,omitempty"` // default 50001

	Timeout time.Duration `json:"timeout,omitempty"` // dial timeout, default 5s

	// Joint naming; defaults to the canonical AUBO i5 ordering.
	JointNames []string `json:"joint_names,omitempty"`

	MaxVelocity    float64   `json:"max_velocity_rads_per_sec,omitempty"`
	GoalTolerances []float64 `json:"goal_tolerances_rads,omitempty"`

	// When set, SendProgram becomes a logged no-op. Useful while someone is
	// at the teach pendant.
	PreventProgramming bool `json:"prevent_programming,omitempty"`

	// Optional per-joint offset calibration, JSON file of name -> radians.
	CalibrationFile string `json:"calibration_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid and fills defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Host == "" {
		return nil, nil, fmt.Errorf("must specify host of the robot controller")
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultStatePort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.ReversePort == 0 {
		cfg.ReversePort = DefaultReversePort
	}
	if cfg.ReversePort < 1 || cfg.ReversePort > 65535 {
		return nil, nil, fmt.Errorf("reverse_port must be between 1 and 65535, got %d", cfg.ReversePort)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.JointNames) == 0 {
		cfg.JointNames = append([]string(nil), DefaultJointNames...)
	}
	if len(cfg.JointNames) != NumJoints {
		return nil, nil, fmt.Errorf("expected %d joint names, got %d", NumJoints, len(cfg.JointNames))
	}
	if cfg.MaxVelocity == 0 {
		cfg.MaxVelocity = DefaultMaxVelocity
	}
	if cfg.MaxVelocity < 0 {
		return nil, nil, fmt.Errorf("max_velocity_rads_per_sec must be positive, got %f", cfg.MaxVelocity)
	}
	if len(cfg.GoalTolerances) == 0 {
		cfg.GoalTolerances = uniformTolerances(DefaultGoalTolerance)
	}
	if len(cfg.GoalTolerances) != NumJoints {
		return nil, nil, fmt.Errorf("expected %d goal tolerances, got %d", NumJoints, len(cfg.GoalTolerances))
	}
	for i, tol := range cfg.GoalTolerances {
		if tol <= 0 {
			return nil, nil, fmt.Errorf("goal tolerance %d must be positive, got %f", i, tol)
		}
	}

	return nil, nil, nil
}

// addr is the controller's state-stream endpoint.
func (cfg *Config) addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
