// Package mavlink implements the subset of MAVLink v2 this agent speaks
// to the vehicle's autopilot board: heartbeat and servo-output telemetry
// in, arm/disarm commands, mode changes, manual control and RC channel
// overrides out. The codec is hand-rolled; only the messages the agent
// uses are known to it.
package mavlink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	magicV2 = 0xFD

	// v2 header: magic, len, incompat, compat, seq, sysid, compid, msgid[3]
	headerLen = 10

	maxPayloadLen = 255

	// incompat flag bit: frame carries a 13-byte signature
	flagSigned = 0x01
)

var errUnknownMessage = errors.New("unknown message id")

// crcExtra seeds the checksum with a per-message constant derived from
// the message definition, so both ends agree on field layout.
var crcExtra = map[uint32]uint8{
	msgHeartbeat:          50,
	msgSetMode:            89,
	msgServoOutputRaw:     222,
	msgManualControl:      243,
	msgRCChannelsOverride: 124,
	msgCommandLong:        152,
	msgCommandAck:         143,
}

// x25 accumulates one byte into the X.25 / CRC-16-MCRF4XX checksum.
func x25(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc&0xff)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func checksum(data []byte, extra uint8) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = x25(crc, b)
	}
	return x25(crc, extra)
}

// frame is one MAVLink v2 frame. payload is stored as received (possibly
// truncated); message decoders zero-extend as needed.
type frame struct {
	seq     uint8
	sysID   uint8
	compID  uint8
	msgID   uint32
	payload []byte
}

// encode serializes the frame, truncating trailing payload zeros per the
// v2 wire format (payload length never drops below 1).
func (f *frame) encode() ([]byte, error) {
	extra, ok := crcExtra[f.msgID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownMessage, f.msgID)
	}

	payload := f.payload
	for len(payload) > 1 && payload[len(payload)-1] == 0 {
		payload = payload[:len(payload)-1]
	}
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("payload too long: %d", len(payload))
	}

	buf := make([]byte, 0, headerLen+len(payload)+2)
	buf = append(buf,
		magicV2,
		byte(len(payload)),
		0, // incompat flags
		0, // compat flags
		f.seq,
		f.sysID,
		f.compID,
		byte(f.msgID),
		byte(f.msgID>>8),
		byte(f.msgID>>16),
	)
	buf = append(buf, payload...)

	crc := checksum(buf[1:], extra)
	buf = append(buf, byte(crc), byte(crc>>8))
	return buf, nil
}

// decoder reads frames off a byte stream, resynchronizing on the v2
// magic byte. Frames for unknown messages or with bad checksums are
// dropped silently and the scan continues.
type decoder struct {
	r *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

// next returns the next well-formed known frame, or an error when the
// underlying stream fails.
func (d *decoder) next() (*frame, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != magicV2 {
			continue
		}

		header := make([]byte, headerLen-1)
		if _, err := io.ReadFull(d.r, header); err != nil {
			return nil, err
		}
		payloadLen := int(header[0])
		incompat := header[1]

		body := make([]byte, payloadLen+2)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, err
		}
		if incompat&flagSigned != 0 {
			if _, err := d.r.Discard(13); err != nil {
				return nil, err
			}
		}

		msgID := uint32(header[6]) | uint32(header[7])<<8 | uint32(header[8])<<16
		extra, ok := crcExtra[msgID]
		if !ok {
			continue
		}

		payload := body[:payloadLen]
		crcData := make([]byte, 0, headerLen-1+payloadLen)
		crcData = append(crcData, header...)
		crcData = append(crcData, payload...)
		want := binary.LittleEndian.Uint16(body[payloadLen:])
		if checksum(crcData, extra) != want {
			continue
		}

		return &frame{
			seq:     header[3],
			sysID:   header[4],
			compID:  header[5],
			msgID:   msgID,
			payload: payload,
		}, nil
	}
}
