package mavlink

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/rc"
)

var _ link.Link = (*Client)(nil)

// Our identity on the link: a ground-station style component.
const (
	localSystemID    = 255
	localComponentID = 190
)

const (
	armPollInterval  = 100 * time.Millisecond
	telemetryTimeout = 3 * time.Second
)

// Client is the MAVLink vehicle link. A single reader goroutine owns the
// receive side and publishes the latest heartbeat and servo sample;
// writers share the socket behind a mutex. Blocking confirmation waits
// (arm/disarm, telemetry) poll the published state and never touch the
// socket read side themselves.
type Client struct {
	conn   io.ReadWriteCloser
	logger log.Logger

	armTimeout time.Duration

	// write side
	wmu sync.Mutex
	seq uint8

	// receive side, maintained by the reader goroutine
	rmu          sync.Mutex
	targetSystem uint8
	targetComp   uint8
	lastHB       heartbeat
	hbSeen       bool
	servo        servoOutputRaw
	servoSeen    bool
	servoNotify  chan struct{}
	hbNotify     chan struct{}
	readErr      error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the autopilot at the given endpoint and blocks until
// the first heartbeat arrives or heartbeatTimeout expires. Endpoint
// syntax follows the original service: tcp:host:port, udpout:host:port,
// udpin:bind:port (udp: is an alias for udpin:).
func Dial(endpoint string, heartbeatTimeout, armTimeout time.Duration, logger log.Logger) (*Client, error) {
	conn, err := dialEndpoint(endpoint, heartbeatTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", endpoint, err)
	}

	c := &Client{
		conn:         conn,
		logger:       logger,
		armTimeout:   armTimeout,
		targetSystem: 1,
		targetComp:   1,
		servoNotify:  make(chan struct{}),
		hbNotify:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.readLoop()

	logger.Infof("Waiting for heartbeat from %s...", endpoint)
	if err := c.waitHeartbeat(heartbeatTimeout); err != nil {
		c.Close()
		return nil, err
	}
	logger.Infof("Heartbeat received (system %d component %d)", c.targetSystem, c.targetComp)
	return c, nil
}

func (c *Client) readLoop() {
	dec := newDecoder(c.conn)
	for {
		f, err := dec.next()
		if err != nil {
			c.rmu.Lock()
			c.readErr = err
			c.rmu.Unlock()
			select {
			case <-c.done:
			default:
				c.logger.Errorf("Vehicle link read failed: %v", err)
			}
			return
		}

		switch f.msgID {
		case msgHeartbeat:
			hb := decodeHeartbeat(f.payload)
			c.rmu.Lock()
			if !c.hbSeen {
				c.targetSystem = f.sysID
				c.targetComp = f.compID
			}
			c.lastHB = hb
			c.hbSeen = true
			close(c.hbNotify)
			c.hbNotify = make(chan struct{})
			c.rmu.Unlock()

		case msgServoOutputRaw:
			s := decodeServoOutputRaw(f.payload)
			c.rmu.Lock()
			c.servo = s
			c.servoSeen = true
			close(c.servoNotify)
			c.servoNotify = make(chan struct{})
			c.rmu.Unlock()
		}
	}
}

func (c *Client) waitHeartbeat(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.rmu.Lock()
		seen := c.hbSeen
		notify := c.hbNotify
		readErr := c.readErr
		c.rmu.Unlock()
		if seen {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("link failed before first heartbeat: %w", readErr)
		}
		select {
		case <-notify:
		case <-deadline.C:
			return fmt.Errorf("no heartbeat within %s", timeout)
		case <-c.done:
			return link.ErrClosed
		}
	}
}

func (c *Client) send(msgID uint32, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	f := frame{
		seq:     c.seq,
		sysID:   localSystemID,
		compID:  localComponentID,
		msgID:   msgID,
		payload: payload,
	}
	c.seq++
	buf, err := f.encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

func (c *Client) target() (uint8, uint8) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.targetSystem, c.targetComp
}

// Arm sends the arm command and blocks until the heartbeat reports the
// safety-armed flag, the context is cancelled or the arm timeout fires.
func (c *Client) Arm(ctx context.Context) error {
	return c.setArmed(ctx, true)
}

// Disarm sends the disarm command and blocks until the armed flag clears.
func (c *Client) Disarm(ctx context.Context) error {
	return c.setArmed(ctx, false)
}

func (c *Client) setArmed(ctx context.Context, want bool) error {
	sys, comp := c.target()
	var p1 float32
	if want {
		p1 = 1
	}
	if err := c.send(msgCommandLong, encodeCommandLong(sys, comp, mavCmdComponentArmDisarm, [7]float32{p1})); err != nil {
		return err
	}

	deadline := time.NewTimer(c.armTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(armPollInterval)
	defer poll.Stop()
	for {
		c.rmu.Lock()
		armed := c.lastHB.armed()
		c.rmu.Unlock()
		if armed == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return link.ErrArmTimeout
		case <-c.done:
			return link.ErrClosed
		case <-poll.C:
		}
	}
}

// ModeMapping returns the controller's mode-name table.
func (c *Client) ModeMapping() map[string]uint32 {
	return link.StandardModes
}

// SetMode requests the named mode by id.
func (c *Client) SetMode(ctx context.Context, mode string) error {
	id, ok := link.StandardModes[strings.ToUpper(mode)]
	if !ok {
		return link.ErrUnknownMode
	}
	sys, _ := c.target()
	return c.send(msgSetMode, encodeSetMode(sys, id))
}

// SendManualControl passes the axes tuple to the manual-control input.
func (c *Client) SendManualControl(m rc.Manual) error {
	sys, _ := c.target()
	return c.send(msgManualControl, encodeManualControl(sys, m))
}

// SendChannelOverride sets the 18 RC override channels.
func (c *Client) SendChannelOverride(f rc.Frame) error {
	sys, comp := c.target()
	return c.send(msgRCChannelsOverride, encodeRCChannelsOverride(sys, comp, f))
}

// ActuatorTelemetry blocks for the next servo-output sample and returns
// the raw PWM per channel.
func (c *Client) ActuatorTelemetry(ctx context.Context) ([]int, error) {
	deadline := time.NewTimer(telemetryTimeout)
	defer deadline.Stop()
	for {
		c.rmu.Lock()
		seen := c.servoSeen
		sample := c.servo
		notify := c.servoNotify
		c.rmu.Unlock()
		if seen {
			out := make([]int, len(sample.raw))
			for i, v := range sample.raw {
				out[i] = int(v)
			}
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no actuator telemetry within %s", telemetryTimeout)
		case <-c.done:
			return nil, link.ErrClosed
		case <-notify:
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// dialEndpoint opens the transport for a pymavlink-style endpoint URL.
func dialEndpoint(endpoint string, timeout time.Duration) (io.ReadWriteCloser, error) {
	parts := strings.SplitN(endpoint, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("bad endpoint %q, want scheme:host:port", endpoint)
	}
	scheme, host, port := parts[0], parts[1], parts[2]
	addr := net.JoinHostPort(host, port)

	switch scheme {
	case "tcp":
		return net.DialTimeout("tcp", addr, timeout)
	case "udpout":
		return net.Dial("udp", addr)
	case "udp", "udpin":
		laddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return nil, err
		}
		return newUDPServerConn(conn), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", scheme)
	}
}

// udpServerConn adapts a listening UDP socket: it accepts datagrams from
// anyone and locks writes onto the peer that spoke first, which is how
// the autopilot's udpin endpoints behave.
type udpServerConn struct {
	conn *net.UDPConn
	mu   sync.Mutex
	peer *net.UDPAddr
}

func newUDPServerConn(conn *net.UDPConn) *udpServerConn {
	return &udpServerConn{conn: conn}
}

func (u *udpServerConn) Read(p []byte) (int, error) {
	n, addr, err := u.conn.ReadFromUDP(p)
	if err != nil {
		return n, err
	}
	u.mu.Lock()
	if u.peer == nil {
		u.peer = addr
	}
	u.mu.Unlock()
	return n, nil
}

func (u *udpServerConn) Write(p []byte) (int, error) {
	u.mu.Lock()
	peer := u.peer
	u.mu.Unlock()
	if peer == nil {
		// Nobody has talked to us yet; drop rather than error so the
		// refresh loop does not spam failures before the first packet.
		return len(p), nil
	}
	return u.conn.WriteToUDP(p, peer)
}

func (u *udpServerConn) Close() error {
	return u.conn.Close()
}
