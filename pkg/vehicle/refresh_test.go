package vehicle

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
)

func newTestRefresh(sim *link.Sim, clk clock.Clock) (*Refresh, *State) {
	st := NewState("MANUAL")
	r := NewRefresh(st, sim, 50*time.Millisecond, rc.DefaultNeutralPWM, clk, log.NewNopLogger())
	return r, st
}

func TestTickDisarmedSendsNeutral(t *testing.T) {
	sim := link.NewSim()
	r, _ := newTestRefresh(sim, clock.New())

	r.Tick()

	f, ok := sim.LastFrame()
	if !ok {
		t.Fatalf("Expected a frame to be sent")
	}
	if f != rc.Neutral(rc.DefaultNeutralPWM) {
		t.Errorf("Disarmed tick should send neutral, got %v", f)
	}
}

func TestTickArmedWithoutIntentSendsNeutral(t *testing.T) {
	sim := link.NewSim()
	r, st := newTestRefresh(sim, clock.New())
	st.SetArmed(true)

	r.Tick()

	f, _ := sim.LastFrame()
	if f != rc.Neutral(rc.DefaultNeutralPWM) {
		t.Errorf("No intent yet should translate to neutral, got %v", f)
	}
}

func TestTickRepeatsRCIntent(t *testing.T) {
	sim := link.NewSim()
	r, st := newTestRefresh(sim, clock.New())

	st.SetArmed(true)
	ch := rc.NewChannels()
	ch.Roll = rc.PWM(1700)
	st.SetIntent(&Intent{Method: MethodRCChannels, Channels: ch})

	for i := 0; i < 3; i++ {
		r.Tick()
	}

	frames := sim.Frames()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if f[1] != 1700 {
			t.Errorf("Expected channel 2 at 1700 on every tick, got %d", f[1])
		}
		if f[0] != rc.Ignore {
			t.Errorf("Never-set channel 1 should stay at the sentinel, got %d", f[0])
		}
	}
}

func TestTickManualIntent(t *testing.T) {
	sim := link.NewSim()
	r, st := newTestRefresh(sim, clock.New())

	st.SetArmed(true)
	st.SetIntent(&Intent{Method: MethodManual, Manual: rc.Manual{X: 500, Z: 250}})

	r.Tick()

	manuals := sim.Manuals()
	if len(manuals) != 1 {
		t.Fatalf("Expected 1 manual-control send, got %d", len(manuals))
	}
	if manuals[0].X != 500 || manuals[0].Z != 250 {
		t.Errorf("Manual tuple mismatch: %+v", manuals[0])
	}
	if len(sim.Frames()) != 0 {
		t.Errorf("Manual intent must not produce an override frame")
	}
}

func TestDisarmThenTickSendsNeutralNotStaleIntent(t *testing.T) {
	sim := link.NewSim()
	r, st := newTestRefresh(sim, clock.New())

	st.SetArmed(true)
	ch := rc.NewChannels()
	ch.Throttle = rc.PWM(1800)
	st.SetIntent(&Intent{Method: MethodRCChannels, Channels: ch})
	r.Tick()

	st.SetArmed(false)
	r.Tick()

	f, _ := sim.LastFrame()
	if f != rc.Neutral(rc.DefaultNeutralPWM) {
		t.Errorf("Post-disarm tick must send neutral, never the stale intent: %v", f)
	}
}

func TestRunTicksOnClock(t *testing.T) {
	sim := link.NewSim()
	mock := clock.NewMock()
	r, _ := newTestRefresh(sim, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Let the loop create its ticker before moving time.
	time.Sleep(10 * time.Millisecond)
	mock.Add(150 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for len(sim.Frames()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := len(sim.Frames()); got < 3 {
		t.Errorf("Expected at least 3 ticks in 150ms at a 50ms period, got %d", got)
	}
}
