package vehicle

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
)

// Refresh is the motion refresh loop: the sole writer of actuator
// commands on the periodic path. Every tick it re-issues the last
// accepted intent (or the neutral frame when disarmed or idle), so the
// controller keeps receiving fresh commands however irregular the
// operator's traffic is.
type Refresh struct {
	state   *State
	link    link.Link
	clock   clock.Clock
	period  time.Duration
	neutral uint16
	log     log.Logger
}

// NewRefresh builds the loop; call Run to start ticking.
func NewRefresh(st *State, lnk link.Link, period time.Duration, neutral uint16, clk clock.Clock, logger log.Logger) *Refresh {
	return &Refresh{
		state:   st,
		link:    lnk,
		clock:   clk,
		period:  period,
		neutral: neutral,
		log:     logger,
	}
}

// Run ticks until ctx is cancelled. Send errors are logged and the loop
// keeps going; a dead link is the bootstrap's problem, not this loop's.
func (r *Refresh) Run(ctx context.Context) {
	r.log.Infof("Motion refresh loop started (period %s)", r.period)
	ticker := r.clock.Ticker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Infof("Motion refresh loop stopped")
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick reads one consistent armed/intent snapshot and pushes the
// corresponding actuator command. Disarmed, or armed with no intent yet,
// always produces the neutral frame, never a stale one.
func (r *Refresh) Tick() {
	armed, _, intent := r.state.Snapshot()

	if !armed || intent == nil {
		if err := r.link.SendChannelOverride(rc.Neutral(r.neutral)); err != nil {
			r.log.Warnf("Refresh: neutral frame send failed: %v", err)
		}
		return
	}

	var err error
	switch intent.Method {
	case MethodManual:
		err = r.link.SendManualControl(intent.Manual)
	case MethodRCChannels:
		err = r.link.SendChannelOverride(intent.Channels.Frame())
	default:
		// Unknown methods are rejected at ingress; treat a stored one
		// as no intent.
		err = r.link.SendChannelOverride(rc.Neutral(r.neutral))
	}
	if err != nil {
		r.log.Warnf("Refresh: intent send failed: %v", err)
	}
}
