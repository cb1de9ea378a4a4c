package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/gofiber/contrib/websocket"

	"github.com/rov-teleop/agent/pkg/link"
	customlog "github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
	"github.com/rov-teleop/agent/pkg/vehicle"
)

// Control is the command ingress: it parses operator messages, applies
// arm/mode requests through the arming controller, stores drive intent
// into the vehicle state and replies with a status snapshot. It never
// drives actuators on the periodic path; that is the refresh loop's job.
//
// Session teardown neutralizes and disarms the whole vehicle, even when
// other clients remain connected. Any disconnect is a global abort.
type Control struct {
	logger    customlog.Logger
	state     *vehicle.State
	arming    *vehicle.Arming
	link      link.Link
	neutral   int
	thrusters int
}

// NewControl wires the ingress against the shared vehicle state, the
// arming controller and the link used for mode changes and telemetry.
func NewControl(logger customlog.Logger, st *vehicle.State, arming *vehicle.Arming, lnk link.Link, neutral int, thrusters int) *Control {
	return &Control{
		logger:    logger,
		state:     st,
		arming:    arming,
		link:      lnk,
		neutral:   neutral,
		thrusters: thrusters,
	}
}

// Handler runs one control session. Pass to websocket.New.
func (h *Control) Handler(conn *websocket.Conn) {
	logger := h.logger.WithField("client", conn.RemoteAddr().String())
	logger.Infof("Control WebSocket connected")

	defer h.teardown(logger)

	var (
		mt  int
		msg []byte
		err error
	)
	for {
		if mt, msg, err = conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Errorf("Control WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Infof("Control WS connection closed: %v", err)
			} else {
				logger.Infof("Control WS connection closed normally")
			}
			break
		}

		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text control message type: %d", mt)
			continue
		}

		reply := h.Process(context.Background(), msg)
		if err = conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			logger.Errorf("Control WS write error: %v", err)
			break
		}
	}
}

// teardown is the vehicle-wide safety action for a closing session:
// drop the intent, command neutral, disarm.
func (h *Control) teardown(logger customlog.Logger) {
	logger.Infof("Client disconnected, neutralizing and disarming")
	h.state.ClearIntent()
	if err := h.link.SendChannelOverride(rc.Neutral(uint16(h.neutral))); err != nil {
		logger.Warnf("Failed to send neutral frame on disconnect: %v", err)
	}
	if res := h.arming.RequestDisarm(context.Background()); res.Error != "" {
		logger.Errorf("Disarm on disconnect failed: %s", res.Error)
	}
}

// Process handles one inbound message and returns the JSON reply.
// Within a message: arm/disarm first, then mode, then intent
// replacement, then the status reply, so the reply always reflects the
// just-applied state.
func (h *Control) Process(ctx context.Context, msg []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		h.logger.Errorf("Invalid JSON: %v", err)
		return errorJSON("Invalid JSON")
	}

	resp := Response{MessageReceived: true}

	if cmd.Arm != nil {
		var res vehicle.ArmResult
		if *cmd.Arm == 1 {
			res = h.arming.RequestArm(ctx)
		} else {
			res = h.arming.RequestDisarm(ctx)
		}
		resp.ArmResult = &res
	}

	// A rejected mode or drive field must not discard the reply: the arm
	// request above may already have changed the vehicle, and the
	// operator needs to see that alongside the error.
	if cmd.Mode != nil {
		mode := strings.ToUpper(*cmd.Mode)
		if mode != h.state.Mode() {
			if err := h.link.SetMode(ctx, mode); err != nil {
				h.logger.Warnf("Mode change to %q rejected: %v", mode, err)
				resp.Error = fmt.Sprintf("Unknown mode: %s", *cmd.Mode)
			} else {
				h.state.SetMode(mode)
			}
		}
	}

	if cmd.DriveMethod != nil && h.state.Armed() && resp.Error == "" {
		intent, err := intentFromCommand(&cmd)
		if err != nil {
			h.logger.Warnf("Rejected drive command: %v", err)
			resp.Error = err.Error()
		} else {
			h.state.SetIntent(intent)
		}
	}

	armed, mode, _ := h.state.Snapshot()
	resp.NavigatorStatus = NavigatorStatus{Mode: mode, IsArmed: armed}

	if raw, err := h.link.ActuatorTelemetry(ctx); err != nil {
		h.logger.Warnf("Actuator telemetry read failed: %v", err)
	} else {
		n := h.thrusters
		if n > len(raw) {
			n = len(raw)
		}
		values := make([]int, n)
		for i := 0; i < n; i++ {
			values[i] = raw[i] - h.neutral
		}
		resp.ThrustersValue = values
	}

	out, err := json.Marshal(resp)
	if err != nil {
		h.logger.Errorf("Failed to marshal status reply: %v", err)
		return errorJSON("internal error")
	}
	return out
}

// intentFromCommand translates the message's drive fields into a stored
// intent. Field presence, not value, decides whether a channel is set.
// Every supplied value is range-checked before any narrowing cast: a
// wrapped negative would otherwise land on the ignore sentinel and a
// wrapped large value on a live PWM, both silently driving the vehicle
// wrong.
func intentFromCommand(cmd *Command) (*vehicle.Intent, error) {
	switch vehicle.Method(*cmd.DriveMethod) {
	case vehicle.MethodManual:
		var m rc.Manual
		for _, a := range []struct {
			name string
			v    *int
			dst  *int16
		}{
			{"pitch", cmd.Pitch, &m.X},
			{"roll", cmd.Roll, &m.Y},
			{"throttle", cmd.Throttle, &m.Z},
			{"yaw", cmd.Yaw, &m.R},
		} {
			val, err := axisValue(a.name, a.v)
			if err != nil {
				return nil, err
			}
			*a.dst = val
		}
		if cmd.Buttons != nil && (*cmd.Buttons < 0 || *cmd.Buttons > 65535) {
			return nil, fmt.Errorf("buttons out of range: %d", *cmd.Buttons)
		}
		if cmd.Buttons != nil {
			m.Buttons = uint16(*cmd.Buttons)
		}
		return &vehicle.Intent{Method: vehicle.MethodManual, Manual: m}, nil

	case vehicle.MethodRCChannels:
		ch := rc.NewChannels()
		for i, v := range cmd.Channels {
			if i >= rc.NumChannels {
				return nil, fmt.Errorf("too many positional channels: %d", len(cmd.Channels))
			}
			if !pwmOK(v) {
				return nil, fmt.Errorf("channel %d out of range: %d", i+1, v)
			}
			ch.Raw[i] = uint16(v)
		}
		for _, f := range []struct {
			name string
			v    *int
			dst  **uint16
		}{
			{"pitch", cmd.Pitch, &ch.Pitch},
			{"roll", cmd.Roll, &ch.Roll},
			{"throttle", cmd.Throttle, &ch.Throttle},
			{"yaw", cmd.Yaw, &ch.Yaw},
			{"forward", cmd.Forward, &ch.Forward},
			{"lateral", cmd.Lateral, &ch.Lateral},
			{"camera_pan", cmd.CameraPan, &ch.CameraPan},
			{"camera_tilt", cmd.CameraTilt, &ch.CameraTilt},
			{"lights1", cmd.Lights1, &ch.Lights1},
			{"lights2", cmd.Lights2, &ch.Lights2},
			{"video_switch", cmd.VideoSwitch, &ch.VideoSwitch},
		} {
			p, err := pwmValue(f.name, f.v)
			if err != nil {
				return nil, err
			}
			*f.dst = p
		}
		return &vehicle.Intent{Method: vehicle.MethodRCChannels, Channels: ch}, nil

	default:
		return nil, fmt.Errorf("unknown drive_method: %s", *cmd.DriveMethod)
	}
}

// manualAxisLimit bounds the manual-control axes, matching the
// MANUAL_CONTROL normalized range.
const manualAxisLimit = 1000

// axisValue validates one manual-control axis. Absent means centered.
func axisValue(name string, v *int) (int16, error) {
	if v == nil {
		return 0, nil
	}
	if *v < -manualAxisLimit || *v > manualAxisLimit {
		return 0, fmt.Errorf("%s out of range: %d", name, *v)
	}
	return int16(*v), nil
}

// pwmValue validates one supplied channel value. Absent stays absent.
func pwmValue(name string, v *int) (*uint16, error) {
	if v == nil {
		return nil, nil
	}
	if !pwmOK(*v) {
		return nil, fmt.Errorf("%s out of range: %d", name, *v)
	}
	return rc.PWM(uint16(*v)), nil
}

// pwmOK accepts the active PWM band and the ignore sentinel.
func pwmOK(v int) bool {
	return v == int(rc.Ignore) || (v >= int(rc.MinPWM) && v <= int(rc.MaxPWM))
}

func errorJSON(msg string) []byte {
	out, _ := json.Marshal(ErrorResponse{Error: msg})
	return out
}
