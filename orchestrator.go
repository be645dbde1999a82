package aubo_arm

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
)

const (
	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 10 * time.Second
)

// Orchestrator supervises the connection lifecycle: it brings the link up,
// uploads the controller program when the robot reports ready, rebinds the
// follower while a program is executing, and reconnects after a drop. It is
// the only place reconnection happens; the connection itself never retries.
type Orchestrator struct {
	conn     *Connection
	follower *Follower
	logger   logging.Logger
}

func NewOrchestrator(conn *Connection, follower *Follower, logger logging.Logger) *Orchestrator {
	return &Orchestrator{conn: conn, follower: follower, logger: logger}
}

// Run drives the connection until ctx is canceled. It consumes the
// connection's state-change notifications instead of polling.
func (o *Orchestrator) Run(ctx context.Context) {
	o.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-o.conn.StateChanges():
			switch state {
			case StateReadyToProgram:
				if err := o.conn.SendProgram(); err != nil {
					o.logger.Warnf("Failed to program robot: %v", err)
				}
			case StateExecuting:
				o.logger.Info("Robot connected")
				o.follower.SetRobot(o.conn)
			case StateDisconnected:
				o.logger.Info("Disconnected. Reconnecting")
				o.follower.SetRobot(nil)
				o.connect(ctx)
			}
		}
	}
}

// connect dials with backoff until the link is up or ctx is canceled, then
// parks the controller on the reset program so it stays idle until
// programmed.
func (o *Orchestrator) connect(ctx context.Context) {
	backoff := reconnectBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := o.conn.Connect()
		if err == nil {
			if err := o.conn.SendResetProgram(); err != nil {
				o.logger.Warnf("Failed to send reset program: %v", err)
			}
			return
		}
		o.logger.Warnf("Failed to connect to robot: %v (retrying in %v)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < reconnectBackoffMax {
			backoff *= 2
		}
	}
}
