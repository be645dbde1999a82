package aubo_arm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subPacket(subType byte, payload []byte) []byte {
	b := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(b)))
	b[4] = subType
	copy(b[frameHeaderSize:], payload)
	return b
}

func frame(frameType byte, subs ...[]byte) []byte {
	body := bytes.Join(subs, nil)
	b := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(b, uint32(len(b)))
	b[4] = frameType
	copy(b[frameHeaderSize:], body)
	return b
}

func modePayload(timestamp uint64, enabled, powered bool, mode RobotMode) []byte {
	b := make([]byte, robotModeDataSize)
	binary.BigEndian.PutUint64(b, timestamp)
	if enabled {
		b[8] = 1
	}
	if powered {
		b[9] = 1
	}
	b[10] = byte(mode)
	return b
}

func jointPayload(positions, velocities []float64) []byte {
	b := make([]byte, NumJoints*16)
	for i := 0; i < NumJoints; i++ {
		binary.BigEndian.PutUint64(b[i*16:], math.Float64bits(positions[i]))
		binary.BigEndian.PutUint64(b[i*16+8:], math.Float64bits(velocities[i]))
	}
	return b
}

// stateFrame builds a complete robot-state frame with mode and joint data.
// Always comfortably above the extraction minimum.
func stateFrame(timestamp uint64, enabled bool, mode RobotMode, positions, velocities []float64) []byte {
	return frame(frameTypeRobotState,
		subPacket(subTypeRobotMode, modePayload(timestamp, enabled, true, mode)),
		subPacket(subTypeJointData, jointPayload(positions, velocities)),
	)
}

func TestExtractFrames(t *testing.T) {
	full := stateFrame(1, true, RobotModeReady, zeros(), zeros())
	require.GreaterOrEqual(t, len(full), minFrameBytes)

	t.Run("complete frame plus partial remainder", func(t *testing.T) {
		trailing := full[:10]
		buf := append(append([]byte(nil), full...), trailing...)

		frames, rest, err := extractFrames(buf)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, full, frames[0])
		assert.Equal(t, trailing, rest)
	})

	t.Run("60-byte frame with 10 trailing bytes", func(t *testing.T) {
		f := frame(frameTypeRobotState,
			subPacket(subTypeRobotMode, modePayload(1, true, true, RobotModeReady)),
			subPacket(9, make([]byte, 34)),
		)
		require.Len(t, f, 60)
		buf := append(append([]byte(nil), f...), make([]byte, 10)...)

		frames, rest, err := extractFrames(buf)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Len(t, rest, 10)
	})

	t.Run("back to back frames", func(t *testing.T) {
		second := stateFrame(2, true, RobotModeRunning, zeros(), zeros())
		buf := append(append([]byte(nil), full...), second...)

		frames, rest, err := extractFrames(buf)
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Empty(t, rest)
	})

	t.Run("short buffer is retained untouched", func(t *testing.T) {
		// A complete small frame, but the buffer is below the extraction
		// minimum: nothing comes out until more bytes arrive.
		small := frame(frameTypeRobotState, subPacket(subTypeRobotMode, modePayload(3, true, true, RobotModeReady)))
		require.Less(t, len(small), minFrameBytes)

		frames, rest, err := extractFrames(small)
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Equal(t, small, rest)
	})

	t.Run("length below header size is unrecoverable", func(t *testing.T) {
		buf := append([]byte(nil), full...)
		binary.BigEndian.PutUint32(buf, 2)

		_, _, err := extractFrames(buf)
		require.Error(t, err)
	})

	t.Run("empty buffer", func(t *testing.T) {
		frames, rest, err := extractFrames(nil)
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Empty(t, rest)
	})
}

func TestDecodeRobotState(t *testing.T) {
	positions := []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	velocities := []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06}

	t.Run("mode and joint data", func(t *testing.T) {
		state, err := decodeRobotState(stateFrame(42, true, RobotModeRunning, positions, velocities))
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, uint64(42), state.Timestamp)
		assert.True(t, state.RealRobotEnabled)
		assert.True(t, state.PowerOnRobot)
		assert.Equal(t, RobotModeRunning, state.Mode)
		require.NotNil(t, state.Joints)
		assert.Equal(t, positions, state.Joints.Positions)
		assert.Equal(t, velocities, state.Joints.Velocities)
		assert.Empty(t, state.UnknownTypes)
		assert.True(t, state.ModeReported)
	})

	t.Run("joint data without mode data", func(t *testing.T) {
		state, err := decodeRobotState(frame(frameTypeRobotState,
			subPacket(subTypeJointData, jointPayload(positions, velocities))))
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.False(t, state.ModeReported)
		require.NotNil(t, state.Joints)
		assert.Equal(t, positions, state.Joints.Positions)
	})

	t.Run("disabled robot", func(t *testing.T) {
		state, err := decodeRobotState(stateFrame(7, false, RobotModeSecurityStopped, positions, velocities))
		require.NoError(t, err)
		assert.False(t, state.RealRobotEnabled)
		assert.Equal(t, RobotModeSecurityStopped, state.Mode)
	})

	t.Run("unknown sub-packet types aggregated", func(t *testing.T) {
		state, err := decodeRobotState(frame(frameTypeRobotState,
			subPacket(subTypeRobotMode, modePayload(1, true, true, RobotModeReady)),
			subPacket(9, make([]byte, 4)),
			subPacket(12, make([]byte, 8)),
			subPacket(9, nil),
		))
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 12, 9}, state.UnknownTypes)
		assert.Equal(t, RobotModeReady, state.Mode)
	})

	t.Run("other top-level frame types skipped", func(t *testing.T) {
		state, err := decodeRobotState(frame(3, subPacket(subTypeRobotMode, modePayload(1, true, true, RobotModeReady))))
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("truncated sub-packet", func(t *testing.T) {
		bad := frame(frameTypeRobotState, subPacket(subTypeRobotMode, modePayload(1, true, true, RobotModeReady)))
		bad = append(bad, 0, 0) // stray trailing bytes inside the declared frame
		binary.BigEndian.PutUint32(bad, uint32(len(bad)))

		_, err := decodeRobotState(bad)
		require.Error(t, err)
	})

	t.Run("sub-packet length out of range", func(t *testing.T) {
		bad := frame(frameTypeRobotState, subPacket(subTypeRobotMode, modePayload(1, true, true, RobotModeReady)))
		binary.BigEndian.PutUint32(bad[frameHeaderSize:], 500)

		_, err := decodeRobotState(bad)
		require.Error(t, err)
	})

	t.Run("short joint data", func(t *testing.T) {
		_, err := decodeRobotState(frame(frameTypeRobotState, subPacket(subTypeJointData, make([]byte, 20))))
		require.Error(t, err)
	})
}

func TestRobotModeCanExecute(t *testing.T) {
	assert.True(t, RobotModeReady.canExecute())
	assert.True(t, RobotModeRunning.canExecute())
	assert.False(t, RobotModeIdle.canExecute())
	assert.False(t, RobotModeSecurityStopped.canExecute())
	assert.False(t, RobotModeEmergencyStopped.canExecute())
	assert.False(t, RobotModeFault.canExecute())
}
