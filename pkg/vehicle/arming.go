package vehicle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"

	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
)

// Arming controller states. Disarmed and Armed are the stable rest
// states; Arming and Disarming exist only for the duration of a link
// round-trip.
const (
	StateDisarmed  = "disarmed"
	StateArming    = "arming"
	StateArmed     = "armed"
	StateDisarming = "disarming"
)

// Arming controller events.
const (
	EventArm          = "arm"
	EventArmConfirmed = "armed"
	EventArmFailed    = "arm_failed"

	EventDisarm          = "disarm"
	EventDisarmConfirmed = "disarmed"
	EventDisarmFailed    = "disarm_failed"
)

// ArmResult is reported back to the operator for an arm/disarm request.
type ArmResult struct {
	Armed   bool   `json:"armed"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Arming enforces safe arm/disarm transitions: motion is neutralized and
// allowed to settle before the link toggles actuator power, so a stale
// non-neutral command can never be latched into the thrusters at the
// instant of arming. Request sequences are serialized; a second request
// arriving during a transition waits for the first to finish.
type Arming struct {
	mu      sync.Mutex
	machine *fsm.FSM
	link    link.Link
	state   *State
	clock   clock.Clock
	settle  time.Duration
	neutral uint16
	log     log.Logger
}

// NewArming builds the controller in the Disarmed state. The confirmed
// arm flag is mirrored into st via the FSM's enter callbacks.
func NewArming(lnk link.Link, st *State, neutral uint16, settle time.Duration, clk clock.Clock, logger log.Logger) *Arming {
	a := &Arming{
		link:    lnk,
		state:   st,
		clock:   clk,
		settle:  settle,
		neutral: neutral,
		log:     logger,
	}

	events := fsm.Events{
		{Name: EventArm, Src: []string{StateDisarmed}, Dst: StateArming},
		{Name: EventArmConfirmed, Src: []string{StateArming}, Dst: StateArmed},
		{Name: EventArmFailed, Src: []string{StateArming}, Dst: StateDisarmed},

		{Name: EventDisarm, Src: []string{StateArmed}, Dst: StateDisarming},
		{Name: EventDisarmConfirmed, Src: []string{StateDisarming}, Dst: StateDisarmed},
		{Name: EventDisarmFailed, Src: []string{StateDisarming}, Dst: StateArmed},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateArmed: func(ctx context.Context, e *fsm.Event) {
			a.state.SetArmed(true)
		},
		"enter_" + StateDisarmed: func(ctx context.Context, e *fsm.Event) {
			a.state.SetArmed(false)
		},
	}

	a.machine = fsm.NewFSM(StateDisarmed, events, callbacks)
	return a
}

// Current returns the controller state name.
func (a *Arming) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.Current()
}

// RequestArm arms the vehicle. Already armed is an idempotent no-op that
// issues no link traffic. On link failure the controller returns to
// Disarmed and the failure is reported in the result.
func (a *Arming) RequestArm(ctx context.Context) ArmResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.machine.Current() == StateArmed {
		return ArmResult{Armed: true, Message: "already armed"}
	}
	if err := a.machine.Event(ctx, EventArm); err != nil {
		return ArmResult{Armed: false, Error: fmt.Sprintf("cannot arm: %v", err)}
	}

	if err := a.neutralize(); err != nil {
		_ = a.machine.Event(ctx, EventArmFailed)
		return ArmResult{Armed: false, Error: fmt.Sprintf("arming failed: %v", err)}
	}

	a.log.Infof("Arming motors...")
	if err := a.link.Arm(ctx); err != nil {
		a.log.Errorf("Arming failed: %v", err)
		_ = a.machine.Event(ctx, EventArmFailed)
		return ArmResult{Armed: false, Error: fmt.Sprintf("arming failed: %v", err)}
	}
	_ = a.machine.Event(ctx, EventArmConfirmed)
	a.log.Infof("MOTORS ARMED")
	return ArmResult{Armed: true, Message: "motors armed"}
}

// RequestDisarm disarms the vehicle. Already disarmed is an idempotent
// no-op. On link failure the controller stays Armed and the failure is
// reported in the result.
func (a *Arming) RequestDisarm(ctx context.Context) ArmResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.machine.Current() == StateDisarmed {
		return ArmResult{Armed: false, Message: "already disarmed"}
	}
	if err := a.machine.Event(ctx, EventDisarm); err != nil {
		return ArmResult{Armed: a.state.Armed(), Error: fmt.Sprintf("cannot disarm: %v", err)}
	}

	if err := a.neutralize(); err != nil {
		// Neutralizing failed but the operator asked for power off;
		// still attempt the disarm itself.
		a.log.Warnf("Failed to neutralize before disarm: %v", err)
	}

	a.log.Infof("Disarming motors...")
	if err := a.link.Disarm(ctx); err != nil {
		a.log.Errorf("Disarming failed: %v", err)
		_ = a.machine.Event(ctx, EventDisarmFailed)
		return ArmResult{Armed: true, Error: fmt.Sprintf("disarming failed: %v", err)}
	}
	_ = a.machine.Event(ctx, EventDisarmConfirmed)
	a.log.Infof("MOTORS DISARMED")
	return ArmResult{Armed: false, Message: "motors disarmed"}
}

// neutralize sends the stop-motion frame and waits the settle delay so
// the controller latches neutral before actuator power toggles.
func (a *Arming) neutralize() error {
	if err := a.link.SendChannelOverride(rc.Neutral(a.neutral)); err != nil {
		return fmt.Errorf("sending neutral frame: %w", err)
	}
	if a.settle > 0 {
		a.clock.Sleep(a.settle)
	}
	return nil
}
