// Package link defines the vehicle link: the connection to the vehicle's
// onboard motion controller carrying arming, mode, actuator command and
// telemetry traffic. The rest of the agent consumes this interface only;
// concrete transports live elsewhere (pkg/mavlink, the in-memory Sim).
package link

import (
	"context"
	"errors"

	"github.com/rov-teleop/agent/pkg/rc"
)

// Common errors
var (
	ErrClosed      = errors.New("vehicle link is closed")
	ErrUnknownMode = errors.New("unknown mode")
	ErrArmTimeout  = errors.New("timed out waiting for arm confirmation")
)

// Link is the narrow interface to the vehicle's onboard controller.
//
// Arm, Disarm, SetMode and ActuatorTelemetry may block on hardware
// round-trips and belong on the command path. SendManualControl and
// SendChannelOverride are fire-and-forget writes and are safe to call
// from the periodic refresh path.
type Link interface {
	// Arm enables actuator power and blocks until the controller
	// confirms the motors are armed, the context is cancelled, or the
	// link's confirmation timeout expires.
	Arm(ctx context.Context) error

	// Disarm cuts actuator power and blocks until confirmed.
	Disarm(ctx context.Context) error

	// ModeMapping returns the controller's mode-name-to-id table.
	ModeMapping() map[string]uint32

	// SetMode requests the named operating mode. Returns ErrUnknownMode
	// when the name is not in the mode table.
	SetMode(ctx context.Context, mode string) error

	// SendManualControl passes the four primary axes and buttons bitmask
	// through to the controller's manual-control input.
	SendManualControl(m rc.Manual) error

	// SendChannelOverride sets the 18 RC override channels.
	SendChannelOverride(f rc.Frame) error

	// ActuatorTelemetry returns the current raw PWM output per actuator
	// channel. Blocks until a sample is available.
	ActuatorTelemetry(ctx context.Context) ([]int, error)

	Close() error
}

// StandardModes is the ArduSub flight mode table, the controller family
// the original vehicle runs. Used by transports that resolve mode names
// locally.
var StandardModes = map[string]uint32{
	"STABILIZE":    0,
	"ACRO":         1,
	"ALT_HOLD":     2,
	"AUTO":         3,
	"GUIDED":       4,
	"CIRCLE":       7,
	"SURFACE":      9,
	"POSHOLD":      16,
	"MANUAL":       19,
	"MOTOR_DETECT": 20,
}
