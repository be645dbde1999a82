package main

import (
	"context"
	"flag"
	"time"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"

	auboArm "aubo_arm"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	host := flag.String("host", "192.168.1.100", "robot controller host")
	port := flag.Int("port", auboArm.DefaultStatePort, "robot state port")
	reversePort := flag.Int("reverse-port", auboArm.DefaultReversePort, "servo command port for the uploaded program")
	move := flag.Bool("move", false, "run the test trajectory after connecting")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("aubo-cli")

	cfg := &auboArm.Config{
		Host:        *host,
		Port:        *port,
		ReversePort: *reversePort,
		Timeout:     5 * time.Second,
		Logger:      logger,
	}
	if _, _, err := cfg.Validate(""); err != nil {
		return err
	}

	robot, err := auboArm.NewAuboArm(ctx, resource.NewName(arm.API, "aubo-i5"), cfg, logger)
	if err != nil {
		return err
	}
	defer robot.Close(ctx)

	logger.Info("AUBO i5 arm initialized, waiting for the state stream...")

	// Poll the connection state until the control program is live.
	deadline := time.Now().Add(30 * time.Second)
	for {
		status, err := robot.DoCommand(ctx, map[string]interface{}{"command": "connection_state"})
		if err != nil {
			return err
		}
		logger.Infof("Connection state: %v", status["state"])
		if status["state"] == "executing" {
			break
		}
		if time.Now().After(deadline) {
			logger.Warn("Robot never reached the executing state; is it powered and enabled?")
			return nil
		}
		time.Sleep(time.Second)
	}

	positions, err := robot.JointPositions(ctx, nil)
	if err != nil {
		return err
	}
	logger.Infof("Current joint positions: %v", positions)

	if !*move {
		logger.Info("Pass -move to run the test trajectory")
		return nil
	}

	// Small shoulder sweep and back; conservative targets so it is safe to
	// run on a mounted arm with clear space around the base.
	logger.Info("Test 1: sweeping the shoulder joint by 30 degrees...")
	sweep := make([]referenceframe.Input, len(positions))
	copy(sweep, positions)
	sweep[0] = referenceframe.Input(float64(sweep[0]) + 0.5236)

	if err := robot.MoveToJointPositions(ctx, sweep, nil); err != nil {
		logger.Errorf("Shoulder sweep failed: %v", err)
	} else {
		logger.Info("Shoulder sweep complete")
	}

	logger.Info("Test 2: returning to the starting position...")
	if err := robot.MoveToJointPositions(ctx, positions, nil); err != nil {
		logger.Errorf("Return move failed: %v", err)
	} else {
		logger.Info("Back at the starting position")
	}

	moving, err := robot.IsMoving(ctx)
	if err != nil {
		return err
	}
	logger.Infof("IsMoving after the test moves: %v", moving)
	return nil
}
