package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
	"github.com/rov-teleop/agent/pkg/vehicle"
)

func newTestControl() (*Control, *link.Sim, *vehicle.State) {
	sim := link.NewSim()
	st := vehicle.NewState("MANUAL")
	arming := vehicle.NewArming(sim, st, rc.DefaultNeutralPWM, 0, clock.New(), log.NewNopLogger())
	h := NewControl(log.NewNopLogger(), st, arming, sim, int(rc.DefaultNeutralPWM), 8)
	return h, sim, st
}

func decodeReply(t *testing.T, reply []byte) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("Failed to decode reply %s: %v", reply, err)
	}
	return resp
}

func TestProcessInvalidJSON(t *testing.T) {
	h, _, st := newTestControl()

	reply := h.Process(context.Background(), []byte(`{"arm": not json`))

	var errResp ErrorResponse
	if err := json.Unmarshal(reply, &errResp); err != nil {
		t.Fatalf("Expected an error reply, got %s", reply)
	}
	if errResp.Error != "Invalid JSON" {
		t.Errorf("Expected 'Invalid JSON', got %q", errResp.Error)
	}

	armed, _, intent := st.Snapshot()
	if armed || intent != nil {
		t.Errorf("Malformed input must leave state unchanged")
	}
}

func TestProcessArmModeManualEndToEnd(t *testing.T) {
	h, sim, st := newTestControl()

	msg := []byte(`{"arm":1,"mode":"MANUAL","drive_method":"manual","pitch":500,"roll":0,"throttle":0,"yaw":0,"buttons":0}`)
	resp := decodeReply(t, h.Process(context.Background(), msg))

	if !resp.MessageReceived {
		t.Errorf("Expected message_received true")
	}
	if resp.ArmResult == nil || !resp.ArmResult.Armed {
		t.Fatalf("Expected arm_result.armed true, got %+v", resp.ArmResult)
	}
	if !resp.NavigatorStatus.IsArmed {
		t.Errorf("Expected navigator_status.is_armed true")
	}
	if resp.NavigatorStatus.Mode != "MANUAL" {
		t.Errorf("Expected mode MANUAL, got %q", resp.NavigatorStatus.Mode)
	}
	if len(resp.ThrustersValue) != 8 {
		t.Errorf("Expected 8 thruster values, got %d", len(resp.ThrustersValue))
	}

	_, _, intent := st.Snapshot()
	if intent == nil || intent.Method != vehicle.MethodManual {
		t.Fatalf("Expected a stored manual intent, got %v", intent)
	}
	if intent.Manual.X != 500 {
		t.Errorf("Expected pitch 500 in stored intent, got %d", intent.Manual.X)
	}
	if !sim.Armed() {
		t.Errorf("Link should be armed")
	}
}

func TestProcessArmResultNullWhenNotRequested(t *testing.T) {
	h, _, _ := newTestControl()

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{}`)))
	if resp.ArmResult != nil {
		t.Errorf("arm_result should be null when no arm was requested, got %+v", resp.ArmResult)
	}
	if !resp.MessageReceived {
		t.Errorf("Expected message_received true")
	}
}

func TestProcessUnknownModeIsRecoverable(t *testing.T) {
	h, _, st := newTestControl()

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"mode":"WARP"}`)))
	if resp.Error != "Unknown mode: WARP" {
		t.Errorf("Expected unknown-mode error in reply, got %q", resp.Error)
	}
	if st.Mode() != "MANUAL" {
		t.Errorf("Failed mode change must not alter state, got %q", st.Mode())
	}

	// The session keeps working afterwards.
	resp = decodeReply(t, h.Process(context.Background(), []byte(`{}`)))
	if !resp.MessageReceived {
		t.Errorf("Session should continue after a bad mode request")
	}
}

func TestProcessArmWithUnknownModeStillReportsArm(t *testing.T) {
	h, sim, _ := newTestControl()

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"arm":1,"mode":"WARP"}`)))

	if resp.ArmResult == nil || !resp.ArmResult.Armed {
		t.Fatalf("Arm happened before the mode rejection and must be reported, got %+v", resp.ArmResult)
	}
	if !resp.NavigatorStatus.IsArmed {
		t.Errorf("Reply should show the vehicle armed")
	}
	if resp.Error != "Unknown mode: WARP" {
		t.Errorf("Expected unknown-mode error alongside arm_result, got %q", resp.Error)
	}
	if !sim.Armed() {
		t.Errorf("Link should be armed")
	}
}

func TestProcessModeChange(t *testing.T) {
	h, sim, st := newTestControl()

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"mode":"stabilize"}`)))
	if resp.NavigatorStatus.Mode != "STABILIZE" {
		t.Errorf("Expected mode STABILIZE in reply, got %q", resp.NavigatorStatus.Mode)
	}
	if st.Mode() != "STABILIZE" {
		t.Errorf("Expected state mode STABILIZE, got %q", st.Mode())
	}
	if sim.Mode() != "STABILIZE" {
		t.Errorf("Expected link mode STABILIZE, got %q", sim.Mode())
	}
}

func TestProcessDriveIgnoredWhileDisarmed(t *testing.T) {
	h, _, st := newTestControl()

	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","roll":1700}`))

	if _, _, intent := st.Snapshot(); intent != nil {
		t.Errorf("Drive intent must not be stored while disarmed")
	}
}

func TestProcessRCChannelsIntent(t *testing.T) {
	h, _, st := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","roll":1700,"lights1":1100}`))

	_, _, intent := st.Snapshot()
	if intent == nil || intent.Method != vehicle.MethodRCChannels {
		t.Fatalf("Expected a stored rc_channels intent, got %v", intent)
	}
	f := intent.Channels.Frame()
	if f[1] != 1700 {
		t.Errorf("Expected channel 2 at 1700, got %d", f[1])
	}
	if f[8] != 1100 {
		t.Errorf("Expected lights1 channel at 1100, got %d", f[8])
	}
	if f[0] != rc.Ignore {
		t.Errorf("Unsupplied pitch should stay at the sentinel, got %d", f[0])
	}
}

func TestProcessExplicitNeutralChannelIsStored(t *testing.T) {
	h, _, st := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","throttle":1500}`))

	_, _, intent := st.Snapshot()
	if intent == nil {
		t.Fatalf("Expected a stored intent")
	}
	f := intent.Channels.Frame()
	if f[2] != 1500 {
		t.Errorf("Explicit 1500 throttle must be stored, not treated as unset: got %d", f[2])
	}
}

func TestProcessPositionalChannels(t *testing.T) {
	h, _, st := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","channels":[1300,65535,65535,65535,65535,65535,65535,65535,65535,65535,65535,1400],"pitch":1600}`))

	_, _, intent := st.Snapshot()
	if intent == nil {
		t.Fatalf("Expected a stored intent")
	}
	f := intent.Channels.Frame()
	if f[0] != 1600 {
		t.Errorf("Named pitch should win over positional slot 1, got %d", f[0])
	}
	if f[11] != 1400 {
		t.Errorf("Positional channel 12 should pass through, got %d", f[11])
	}
}

func TestProcessUnknownDriveMethod(t *testing.T) {
	h, _, st := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"drive_method":"warp"}`)))

	if resp.Error == "" {
		t.Fatalf("Expected an error in the reply")
	}
	if _, _, intent := st.Snapshot(); intent != nil {
		t.Errorf("Unknown drive_method must not store an intent")
	}
}

func TestProcessRejectsOutOfRangeChannelValues(t *testing.T) {
	h, _, st := newTestControl()
	h.Process(context.Background(), []byte(`{"arm":1}`))

	// A negative would wrap to the ignore sentinel and a large value
	// back into the live PWM band if narrowed unchecked.
	for _, msg := range []string{
		`{"drive_method":"rc_channels","roll":-1}`,
		`{"drive_method":"rc_channels","throttle":67300}`,
		`{"drive_method":"rc_channels","lights1":2000}`,
		`{"drive_method":"rc_channels","channels":[1500,-1]}`,
	} {
		resp := decodeReply(t, h.Process(context.Background(), []byte(msg)))
		if resp.Error == "" {
			t.Errorf("Expected a range error for %s", msg)
		}
		if _, _, intent := st.Snapshot(); intent != nil {
			t.Fatalf("Out-of-range command must not store an intent: %s", msg)
		}
	}

	// Sentinel and band edges are valid.
	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","roll":1100,"throttle":1900,"channels":[65535]}`)))
	if resp.Error != "" {
		t.Fatalf("Band edges and sentinel should pass validation, got %q", resp.Error)
	}
	_, _, intent := st.Snapshot()
	if intent == nil {
		t.Fatalf("Expected a stored intent")
	}
	f := intent.Channels.Frame()
	if f[1] != 1100 || f[2] != 1900 {
		t.Errorf("Expected roll 1100 and throttle 1900, got %d and %d", f[1], f[2])
	}
}

func TestProcessRejectsOutOfRangeManualAxes(t *testing.T) {
	h, _, st := newTestControl()
	h.Process(context.Background(), []byte(`{"arm":1}`))

	for _, msg := range []string{
		`{"drive_method":"manual","pitch":1001}`,
		`{"drive_method":"manual","yaw":-1001}`,
		`{"drive_method":"manual","buttons":-1}`,
		`{"drive_method":"manual","buttons":70000}`,
	} {
		resp := decodeReply(t, h.Process(context.Background(), []byte(msg)))
		if resp.Error == "" {
			t.Errorf("Expected a range error for %s", msg)
		}
		if _, _, intent := st.Snapshot(); intent != nil {
			t.Fatalf("Out-of-range command must not store an intent: %s", msg)
		}
	}

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"drive_method":"manual","pitch":-1000,"yaw":1000}`)))
	if resp.Error != "" {
		t.Fatalf("Axis limits should pass validation, got %q", resp.Error)
	}
	_, _, intent := st.Snapshot()
	if intent == nil || intent.Manual.X != -1000 || intent.Manual.R != 1000 {
		t.Errorf("Expected stored axes -1000/1000, got %+v", intent)
	}
}

func TestProcessDisarmCommand(t *testing.T) {
	h, sim, _ := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	resp := decodeReply(t, h.Process(context.Background(), []byte(`{"arm":0}`)))

	if resp.ArmResult == nil || resp.ArmResult.Armed {
		t.Fatalf("Expected disarmed arm_result, got %+v", resp.ArmResult)
	}
	if resp.NavigatorStatus.IsArmed {
		t.Errorf("Expected navigator_status.is_armed false")
	}
	if sim.Armed() {
		t.Errorf("Link should be disarmed")
	}
}

func TestProcessThrusterValuesAreNeutralOffsets(t *testing.T) {
	h, _, _ := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","pitch":1700}`))

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{}`)))
	if len(resp.ThrustersValue) == 0 {
		t.Fatalf("Expected thruster values in reply")
	}
	// The sim answers telemetry from the last frame sent, which here is
	// still the arming-time neutral frame: all offsets zero.
	for i, v := range resp.ThrustersValue {
		if v != 0 {
			t.Errorf("Expected thruster %d at neutral offset 0, got %d", i+1, v)
		}
	}
}

func TestProcessTelemetryFailureOmitsThrusters(t *testing.T) {
	h, sim, _ := newTestControl()
	sim.TelemetryErr = context.DeadlineExceeded

	resp := decodeReply(t, h.Process(context.Background(), []byte(`{}`)))
	if resp.ThrustersValue != nil {
		t.Errorf("Telemetry failure should omit thrusters_value, got %v", resp.ThrustersValue)
	}
	if !resp.MessageReceived {
		t.Errorf("Reply should still acknowledge the message")
	}
}

func TestTeardownNeutralizesAndDisarms(t *testing.T) {
	h, sim, st := newTestControl()

	h.Process(context.Background(), []byte(`{"arm":1}`))
	h.Process(context.Background(), []byte(`{"drive_method":"rc_channels","roll":1700}`))

	h.teardown(log.NewNopLogger())

	if sim.Armed() || st.Armed() {
		t.Errorf("Vehicle should end disarmed after teardown")
	}
	if _, _, intent := st.Snapshot(); intent != nil {
		t.Errorf("Teardown should clear the stored intent")
	}
	f, ok := sim.LastFrame()
	if !ok {
		t.Fatalf("Expected frames to have been sent")
	}
	if f != rc.Neutral(rc.DefaultNeutralPWM) {
		t.Errorf("Last actuator command after teardown must be neutral, got %v", f)
	}
}
