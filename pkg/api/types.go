package api

import "github.com/rov-teleop/agent/pkg/vehicle"

// --- Data structures for control WebSocket messages ---

// Command is one inbound operator message. Every field is optional;
// pointer types distinguish "absent" from an explicit zero or neutral
// value, which matters for channel merging.
type Command struct {
	Arm         *int    `json:"arm,omitempty"`
	Mode        *string `json:"mode,omitempty"`
	DriveMethod *string `json:"drive_method,omitempty"`

	// Named channel / axis values. For drive_method "manual" the first
	// four plus buttons map onto the manual-control axes; for
	// "rc_channels" each maps onto its logical RC input channel.
	Pitch       *int `json:"pitch,omitempty"`
	Roll        *int `json:"roll,omitempty"`
	Throttle    *int `json:"throttle,omitempty"`
	Yaw         *int `json:"yaw,omitempty"`
	Forward     *int `json:"forward,omitempty"`
	Lateral     *int `json:"lateral,omitempty"`
	Buttons     *int `json:"buttons,omitempty"`
	CameraPan   *int `json:"camera_pan,omitempty"`
	CameraTilt  *int `json:"camera_tilt,omitempty"`
	Lights1     *int `json:"lights1,omitempty"`
	Lights2     *int `json:"lights2,omitempty"`
	VideoSwitch *int `json:"video_switch,omitempty"`

	// Channels supplies RC override slots positionally (up to 18
	// values, 65535 to leave a slot untouched). Named values win over
	// the corresponding positional slot.
	Channels []int `json:"channels,omitempty"`
}

// NavigatorStatus mirrors the vehicle's current mode and arm flag.
type NavigatorStatus struct {
	Mode    string `json:"mode"`
	IsArmed bool   `json:"is_armed"`
}

// Response is the per-message status reply.
type Response struct {
	MessageReceived bool               `json:"message_received"`
	ArmResult       *vehicle.ArmResult `json:"arm_result"`
	NavigatorStatus NavigatorStatus    `json:"navigator_status"`
	// ThrustersValue is per-actuator PWM offset from neutral, read back
	// from the vehicle link. Omitted when the telemetry read fails.
	ThrustersValue []int `json:"thrusters_value,omitempty"`
	// Error reports a rejected mode or drive request. The rest of the
	// reply still reflects whatever the message did apply, so an arm
	// that succeeded before the rejection is not lost.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is returned for malformed or unprocessable messages.
type ErrorResponse struct {
	Error string `json:"error"`
}
