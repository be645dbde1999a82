package aubo_arm

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Wire framing for the controller's state stream. Every frame is a 4-byte
// big-endian total length (counting the length field and type byte),
// followed by a 1-byte type tag and the payload. A robot-state frame carries
// sub-packets in the same framing.
const (
	frameHeaderSize = 5

	// The controller never emits a state frame shorter than this, so
	// extraction waits until at least this much is buffered.
	minFrameBytes = 48

	frameTypeRobotState = 16

	subTypeRobotMode  = 0
	subTypeJointData  = 1
	robotModeDataSize = 11 // timestamp(8) + enabled(1) + powered(1) + mode(1)
)

// RobotMode is the controller's reported operating mode.
type RobotMode byte

const (
	RobotModeRunning RobotMode = iota
	RobotModeReady
	RobotModeIdle
	RobotModeInitializing
	RobotModeSecurityStopped
	RobotModeEmergencyStopped
	RobotModeFault
	RobotModeNoController
)

func (m RobotMode) String() string {
	switch m {
	case RobotModeRunning:
		return "running"
	case RobotModeReady:
		return "ready"
	case RobotModeIdle:
		return "idle"
	case RobotModeInitializing:
		return "initializing"
	case RobotModeSecurityStopped:
		return "security_stopped"
	case RobotModeEmergencyStopped:
		return "emergency_stopped"
	case RobotModeFault:
		return "fault"
	case RobotModeNoController:
		return "no_controller"
	default:
		return "unknown"
	}
}

// canExecute reports whether the controller will accept a program in this
// mode.
func (m RobotMode) canExecute() bool {
	return m == RobotModeReady || m == RobotModeRunning
}

// JointSample is the controller-reported joint state carried in a joint-data
// sub-packet.
type JointSample struct {
	Positions  []float64
	Velocities []float64
}

// RobotState is one decoded state frame. Consumed immediately on arrival,
// never persisted beyond lastState.
type RobotState struct {
	Timestamp        uint64
	RealRobotEnabled bool
	PowerOnRobot     bool
	Mode             RobotMode
	Joints           *JointSample

	// ModeReported records whether the frame actually carried a robot-mode
	// sub-packet. The enable flag and mode are meaningless without it.
	ModeReported bool

	// Sub-packet type tags we did not recognize, aggregated for throttled
	// reporting rather than raised per packet.
	UnknownTypes []byte
}

var errMalformedFrame = errors.New("malformed frame: declared length smaller than header")

// extractFrames pops every complete frame off buf and returns the frames
// plus the unconsumed remainder. A length field that can never make
// progress is an unrecoverable connection error.
func extractFrames(buf []byte) ([][]byte, []byte, error) {
	var frames [][]byte
	for len(buf) >= minFrameBytes {
		length := int(binary.BigEndian.Uint32(buf))
		if length < frameHeaderSize {
			return frames, buf, errMalformedFrame
		}
		if len(buf) < length {
			break
		}
		frames = append(frames, buf[:length])
		buf = buf[length:]
	}
	return frames, buf, nil
}

// decodeRobotState decodes one complete frame into a RobotState. Frames of
// other top-level types are skipped (nil state, no error); unknown sub-packet
// types inside a state frame are aggregated on the result.
func decodeRobotState(frame []byte) (*RobotState, error) {
	if len(frame) < frameHeaderSize {
		return nil, errMalformedFrame
	}
	if frame[4] != frameTypeRobotState {
		return nil, nil
	}

	state := &RobotState{}
	body := frame[frameHeaderSize:]
	for len(body) > 0 {
		if len(body) < frameHeaderSize {
			return nil, errors.Errorf("truncated sub-packet: %d trailing bytes", len(body))
		}
		subLen := int(binary.BigEndian.Uint32(body))
		if subLen < frameHeaderSize || subLen > len(body) {
			return nil, errors.Errorf("sub-packet length %d out of range (%d available)", subLen, len(body))
		}
		subType := body[4]
		payload := body[frameHeaderSize:subLen]
		switch subType {
		case subTypeRobotMode:
			if err := decodeRobotModeData(payload, state); err != nil {
				return nil, err
			}
		case subTypeJointData:
			joints, err := decodeJointData(payload)
			if err != nil {
				return nil, err
			}
			state.Joints = joints
		default:
			state.UnknownTypes = append(state.UnknownTypes, subType)
		}
		body = body[subLen:]
	}
	return state, nil
}

func decodeRobotModeData(payload []byte, state *RobotState) error {
	if len(payload) < robotModeDataSize {
		return errors.Errorf("robot mode data too short: %d bytes", len(payload))
	}
	state.Timestamp = binary.BigEndian.Uint64(payload)
	state.RealRobotEnabled = payload[8] != 0
	state.PowerOnRobot = payload[9] != 0
	state.Mode = RobotMode(payload[10])
	state.ModeReported = true
	return nil
}

func decodeJointData(payload []byte) (*JointSample, error) {
	want := NumJoints * 16 // position + velocity, float64 each
	if len(payload) < want {
		return nil, errors.Errorf("joint data too short: %d bytes, want %d", len(payload), want)
	}
	sample := &JointSample{
		Positions:  make([]float64, NumJoints),
		Velocities: make([]float64, NumJoints),
	}
	for i := 0; i < NumJoints; i++ {
		sample.Positions[i] = math.Float64frombits(binary.BigEndian.Uint64(payload[i*16:]))
		sample.Velocities[i] = math.Float64frombits(binary.BigEndian.Uint64(payload[i*16+8:]))
	}
	return sample, nil
}
