// Package telemetry publishes periodic vehicle status snapshots on a
// ZeroMQ PUB socket for dashboards and shore-side loggers. Publishing is
// best effort: failures are logged, never fatal, and the command path
// does not depend on it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pebbe/zmq4"

	sample "github.com/rov-teleop/agent/pkg/flatbuffers/rov_teleop/telemetry"
	"github.com/rov-teleop/agent/pkg/link"
	customlog "github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/vehicle"
)

// StatusTopic is the PUB topic status samples go out on.
const StatusTopic = "rov.status"

// Status is the JSON payload carried inside the envelope.
type Status struct {
	AgentID        string `json:"agent_id"`
	Mode           string `json:"mode"`
	IsArmed        bool   `json:"is_armed"`
	DriveMethod    string `json:"drive_method,omitempty"`
	ThrustersValue []int  `json:"thrusters_value,omitempty"`
}

// Publisher samples the vehicle state on a fixed period and publishes
// each snapshot as a flatbuffers StatusSample envelope.
type Publisher struct {
	socket    *zmq4.Socket
	state     *vehicle.State
	link      link.Link
	clock     clock.Clock
	period    time.Duration
	agentID   string
	neutral   int
	thrusters int
	logger    customlog.Logger
}

// NewPublisher binds the PUB socket at address (e.g. tcp://*:5556).
func NewPublisher(address string, st *vehicle.State, lnk link.Link, period time.Duration, agentID string, neutral, thrusters int, clk clock.Clock, logger customlog.Logger) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	logger.Infof("Telemetry publisher bound on %s", address)

	return &Publisher{
		socket:    socket,
		state:     st,
		link:      lnk,
		clock:     clk,
		period:    period,
		agentID:   agentID,
		neutral:   neutral,
		thrusters: thrusters,
		logger:    logger,
	}, nil
}

// Run publishes until ctx is cancelled, then closes the socket.
func (p *Publisher) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.period)
	defer ticker.Stop()
	defer p.socket.Close()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Telemetry publisher stopped")
			return
		case <-ticker.C:
			if err := p.publish(ctx); err != nil {
				p.logger.Warnf("Telemetry publish failed: %v", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	armed, mode, intent := p.state.Snapshot()
	st := Status{
		AgentID: p.agentID,
		Mode:    mode,
		IsArmed: armed,
	}
	if intent != nil {
		st.DriveMethod = string(intent.Method)
	}

	readCtx, cancel := context.WithTimeout(ctx, p.period/2)
	raw, err := p.link.ActuatorTelemetry(readCtx)
	cancel()
	if err == nil {
		n := p.thrusters
		if n > len(raw) {
			n = len(raw)
		}
		values := make([]int, n)
		for i := 0; i < n; i++ {
			values[i] = raw[i] - p.neutral
		}
		st.ThrustersValue = values
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	envelope := Envelope(StatusTopic, time.Now().UnixNano(), payload)
	if _, err := p.socket.Send(StatusTopic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("sending topic frame: %w", err)
	}
	if _, err := p.socket.SendBytes(envelope, 0); err != nil {
		return fmt.Errorf("sending payload frame: %w", err)
	}
	return nil
}

// Envelope wraps a payload in the flatbuffers StatusSample table.
func Envelope(topic string, timestampNs int64, payload []byte) []byte {
	builder := flatbuffers.NewBuilder(len(payload) + 64)
	topicOffset := builder.CreateString(topic)
	payloadOffset := builder.CreateByteVector(payload)

	sample.StatusSampleStart(builder)
	sample.StatusSampleAddTopic(builder, topicOffset)
	sample.StatusSampleAddTimestampNs(builder, timestampNs)
	sample.StatusSampleAddPayload(builder, payloadOffset)
	builder.Finish(sample.StatusSampleEnd(builder))
	return builder.FinishedBytes()
}
