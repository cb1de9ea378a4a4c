// Package rc models operator drive intent at the actuator level: the
// 18-slot RC channel override frame and the manual-control tuple. It is
// pure data translation, no I/O.
package rc

// Ignore is the sentinel channel value meaning "leave this channel
// unmodified by this frame".
const Ignore uint16 = 65535

const (
	// MinPWM and MaxPWM bound the valid range for active channels.
	MinPWM uint16 = 1100
	MaxPWM uint16 = 1900

	// DefaultNeutralPWM is the value producing zero net motion on the
	// motion channels.
	DefaultNeutralPWM uint16 = 1500
)

const (
	// NumChannels is the size of a channel override frame.
	NumChannels = 18

	// NumMotionChannels covers the six primary motion channels
	// (pitch, roll, throttle, yaw, forward, lateral).
	NumMotionChannels = 6

	// NumNamedChannels covers the logical channels addressable by name.
	NumNamedChannels = 11
)

// Frame is an ordered set of 18 channel override values. Slots carrying
// Ignore are left untouched by the receiving controller. A Frame is built
// fresh from intent every time, never partially mutated.
type Frame [NumChannels]uint16

// Neutral returns the frame that stops all motion: the six motion
// channels at pwm, everything else at Ignore.
func Neutral(pwm uint16) Frame {
	f := EmptyFrame()
	for i := 0; i < NumMotionChannels; i++ {
		f[i] = pwm
	}
	return f
}

// EmptyFrame returns a frame with every slot at Ignore.
func EmptyFrame() Frame {
	var f Frame
	for i := range f {
		f[i] = Ignore
	}
	return f
}

// Channels is the merge input for building a Frame. The eleven named
// fields follow the standard RC input mapping (channel 1 = pitch through
// channel 11 = video switch). Raw supplies channels positionally.
//
// A nil named field means "not supplied"; a non-nil field always wins
// over the corresponding Raw slot, even when it holds the neutral value.
// Presence is the only unset test here: an explicit 1500 (or any other
// in-range value) is a real command, not an absent one.
type Channels struct {
	Pitch       *uint16
	Roll        *uint16
	Throttle    *uint16
	Yaw         *uint16
	Forward     *uint16
	Lateral     *uint16
	CameraPan   *uint16
	CameraTilt  *uint16
	Lights1     *uint16
	Lights2     *uint16
	VideoSwitch *uint16

	// Raw holds positional values for all 18 slots. Channels 12-18 can
	// only be set here.
	Raw [NumChannels]uint16
}

// NewChannels returns a Channels with every positional slot at Ignore.
func NewChannels() Channels {
	return Channels{Raw: EmptyFrame()}
}

// Frame merges named and positional inputs into an override frame.
// Named values take precedence over positional ones for the first
// eleven slots; the remainder pass through positionally.
func (c Channels) Frame() Frame {
	f := c.Raw
	named := [NumNamedChannels]*uint16{
		c.Pitch, c.Roll, c.Throttle, c.Yaw, c.Forward, c.Lateral,
		c.CameraPan, c.CameraTilt, c.Lights1, c.Lights2, c.VideoSwitch,
	}
	for i, v := range named {
		if v != nil {
			f[i] = *v
		}
	}
	return f
}

// PWM is a pointer helper for building Channels literals.
func PWM(v uint16) *uint16 {
	return &v
}

// Manual is the manual-control tuple: four primary axes plus a buttons
// bitmask, passed straight through to the link's manual-control
// primitive. It is a distinct downstream call, not a frame builder.
type Manual struct {
	X       int16 // pitch / forward
	Y       int16 // roll / lateral
	Z       int16 // throttle
	R       int16 // yaw
	Buttons uint16
}
