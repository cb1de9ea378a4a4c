package mavlink

import (
	"encoding/binary"
	"math"

	"github.com/rov-teleop/agent/pkg/rc"
)

// Message ids used by the agent.
const (
	msgHeartbeat          = 0
	msgSetMode            = 11
	msgServoOutputRaw     = 36
	msgManualControl      = 69
	msgRCChannelsOverride = 70
	msgCommandLong        = 76
	msgCommandAck         = 77
)

const (
	mavCmdComponentArmDisarm = 400

	mavModeFlagCustomModeEnabled = 0x01
	mavModeFlagSafetyArmed       = 0x80
)

// pad zero-extends a received payload to the full message length, the
// inverse of the sender's trailing-zero truncation.
func pad(p []byte, n int) []byte {
	if len(p) >= n {
		return p
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// heartbeat carries the autopilot's liveness and arm state.
type heartbeat struct {
	customMode   uint32
	typ          uint8
	autopilot    uint8
	baseMode     uint8
	systemStatus uint8
}

func decodeHeartbeat(p []byte) heartbeat {
	p = pad(p, 9)
	return heartbeat{
		customMode:   binary.LittleEndian.Uint32(p[0:4]),
		typ:          p[4],
		autopilot:    p[5],
		baseMode:     p[6],
		systemStatus: p[7],
	}
}

func (hb heartbeat) armed() bool {
	return hb.baseMode&mavModeFlagSafetyArmed != 0
}

// servoOutputRaw is the per-channel raw PWM readback.
type servoOutputRaw struct {
	timeUsec uint32
	raw      [16]uint16
	port     uint8
}

func decodeServoOutputRaw(p []byte) servoOutputRaw {
	p = pad(p, 37)
	var s servoOutputRaw
	s.timeUsec = binary.LittleEndian.Uint32(p[0:4])
	for i := 0; i < 8; i++ {
		s.raw[i] = binary.LittleEndian.Uint16(p[4+2*i:])
	}
	s.port = p[20]
	// servo9..16 are v2 extension fields
	for i := 8; i < 16; i++ {
		s.raw[i] = binary.LittleEndian.Uint16(p[21+2*(i-8):])
	}
	return s
}

func encodeSetMode(targetSystem uint8, customMode uint32) []byte {
	p := make([]byte, 6)
	binary.LittleEndian.PutUint32(p[0:4], customMode)
	p[4] = targetSystem
	p[5] = mavModeFlagCustomModeEnabled
	return p
}

func encodeCommandLong(targetSystem, targetComp uint8, command uint16, params [7]float32) []byte {
	p := make([]byte, 33)
	for i, v := range params {
		binary.LittleEndian.PutUint32(p[4*i:], floatBits(v))
	}
	binary.LittleEndian.PutUint16(p[28:30], command)
	p[30] = targetSystem
	p[31] = targetComp
	p[32] = 0 // confirmation
	return p
}

func floatBits(v float32) uint32 {
	return math.Float32bits(v)
}

func encodeManualControl(target uint8, m rc.Manual) []byte {
	p := make([]byte, 11)
	binary.LittleEndian.PutUint16(p[0:2], uint16(m.X))
	binary.LittleEndian.PutUint16(p[2:4], uint16(m.Y))
	binary.LittleEndian.PutUint16(p[4:6], uint16(m.Z))
	binary.LittleEndian.PutUint16(p[6:8], uint16(m.R))
	binary.LittleEndian.PutUint16(p[8:10], m.Buttons)
	p[10] = target
	return p
}

func encodeRCChannelsOverride(targetSystem, targetComp uint8, f rc.Frame) []byte {
	p := make([]byte, 38)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint16(p[2*i:], f[i])
	}
	p[16] = targetSystem
	p[17] = targetComp
	// chan9..18 are v2 extension fields
	for i := 8; i < rc.NumChannels; i++ {
		binary.LittleEndian.PutUint16(p[18+2*(i-8):], f[i])
	}
	return p
}
