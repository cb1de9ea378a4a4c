package link

import (
	"context"
	"strings"
	"sync"

	"github.com/rov-teleop/agent/pkg/rc"
)

var _ Link = (*Sim)(nil)

// Sim is an in-memory vehicle link. It stands in for the real autopilot
// board during development (endpoint "sim") and in tests: it records
// every frame and manual tuple sent and answers telemetry from the last
// override frame.
type Sim struct {
	mu      sync.Mutex
	armed   bool
	mode    string
	frames  []rc.Frame
	manuals []rc.Manual
	events  []string
	closed  bool

	armCalls    int
	disarmCalls int

	// Failure injection for tests. When non-nil the corresponding
	// operation fails without changing state.
	ArmErr       error
	DisarmErr    error
	TelemetryErr error

	neutral   int
	thrusters int
}

// NewSim returns a disarmed Sim with eight thrusters idling at 1500.
func NewSim() *Sim {
	return &Sim{mode: "MANUAL", neutral: int(rc.DefaultNeutralPWM), thrusters: 8}
}

func (s *Sim) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armCalls++
	s.events = append(s.events, "arm")
	if s.ArmErr != nil {
		return s.ArmErr
	}
	s.armed = true
	return nil
}

func (s *Sim) Disarm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmCalls++
	s.events = append(s.events, "disarm")
	if s.DisarmErr != nil {
		return s.DisarmErr
	}
	s.armed = false
	return nil
}

func (s *Sim) ModeMapping() map[string]uint32 {
	return StandardModes
}

func (s *Sim) SetMode(ctx context.Context, mode string) error {
	mode = strings.ToUpper(mode)
	if _, ok := StandardModes[mode]; !ok {
		return ErrUnknownMode
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

func (s *Sim) SendManualControl(m rc.Manual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.manuals = append(s.manuals, m)
	s.events = append(s.events, "manual")
	return nil
}

func (s *Sim) SendChannelOverride(f rc.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.frames = append(s.frames, f)
	s.events = append(s.events, "override")
	return nil
}

// ActuatorTelemetry reports the last override frame's motion values as
// servo outputs; channels never overridden read neutral.
func (s *Sim) ActuatorTelemetry(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TelemetryErr != nil {
		return nil, s.TelemetryErr
	}
	out := make([]int, s.thrusters)
	for i := range out {
		out[i] = s.neutral
	}
	if len(s.frames) > 0 {
		last := s.frames[len(s.frames)-1]
		for i := 0; i < s.thrusters && i < rc.NumChannels; i++ {
			if last[i] != rc.Ignore {
				out[i] = int(last[i])
			}
		}
	}
	return out, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// --- Test/inspection helpers ---

// Armed reports the simulated hardware arm state.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Mode reports the simulated mode.
func (s *Sim) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Frames returns a copy of every override frame sent so far.
func (s *Sim) Frames() []rc.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rc.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// LastFrame returns the most recent override frame, if any.
func (s *Sim) LastFrame() (rc.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return rc.Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Manuals returns a copy of every manual-control tuple sent so far.
func (s *Sim) Manuals() []rc.Manual {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rc.Manual, len(s.manuals))
	copy(out, s.manuals)
	return out
}

// Events returns the link calls in the order they arrived: "arm",
// "disarm", "override" and "manual". It lets tests assert ordering
// across the per-kind records.
func (s *Sim) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// ArmCalls and DisarmCalls count link-level arm/disarm invocations.
func (s *Sim) ArmCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armCalls
}

func (s *Sim) DisarmCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarmCalls
}
