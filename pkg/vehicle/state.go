// Package vehicle owns the shared vehicle state, the arming state
// machine and the motion refresh loop. State mutation and reads are
// serialized behind one mutex so the refresh loop never observes a torn
// armed/intent pair.
package vehicle

import (
	"sync"

	"github.com/rov-teleop/agent/pkg/rc"
)

// Method selects how a drive intent reaches the controller.
type Method string

const (
	MethodManual     Method = "manual"
	MethodRCChannels Method = "rc_channels"
)

// Intent is the most recently accepted operator drive command, held for
// periodic re-transmission. Treated as immutable once stored.
type Intent struct {
	Method   Method
	Manual   rc.Manual
	Channels rc.Channels
}

// State is the single long-lived vehicle state: hardware arm flag, last
// requested mode and last accepted drive intent. One instance per
// service; accessors are safe for concurrent use.
type State struct {
	mu     sync.Mutex
	armed  bool
	mode   string
	intent *Intent
}

// NewState returns a disarmed State in the given mode with no intent.
func NewState(mode string) *State {
	return &State{mode: mode}
}

// Snapshot returns armed, mode and intent as one consistent view.
func (s *State) Snapshot() (armed bool, mode string, intent *Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed, s.mode, s.intent
}

// SetArmed records the confirmed hardware arm state. Only the arming
// controller calls this, after the link confirms the transition.
func (s *State) SetArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

// Armed reports the current arm flag.
func (s *State) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// SetMode records the last successfully requested mode.
func (s *State) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Mode returns the last successfully requested mode.
func (s *State) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetIntent atomically replaces the drive intent.
func (s *State) SetIntent(i *Intent) {
	s.mu.Lock()
	s.intent = i
	s.mu.Unlock()
}

// ClearIntent drops the drive intent; subsequent refresh ticks fall back
// to the neutral frame.
func (s *State) ClearIntent() {
	s.mu.Lock()
	s.intent = nil
	s.mu.Unlock()
}
