// Package spdy implements C8 (frame codec) and C9 (session): SPDY/1
// framing, header-block compression, and stream multiplexing over one
// TCP connection, exposing the same push-style handler contract as
// the HTTP/1.1 server and client connections.
package spdy

import (
	"encoding/binary"
	"fmt"
)

// FrameType is a SPDY/1 control frame type (§4.8). DataFrame (0x00) is
// not a control type on the wire — it's bit 0 of byte 0 being unset —
// but is given a value here so callers can switch on one enum.
type FrameType uint16

const (
	DataFrame     FrameType = 0x00
	SynStream     FrameType = 0x01
	SynReply      FrameType = 0x02
	FinStreamType FrameType = 0x03
	Hello         FrameType = 0x04
	Noop          FrameType = 0x05
	Ping          FrameType = 0x06
	GoAway        FrameType = 0x07
)

func (t FrameType) String() string {
	switch t {
	case DataFrame:
		return "DATA"
	case SynStream:
		return "SYN_STREAM"
	case SynReply:
		return "SYN_REPLY"
	case FinStreamType:
		return "FIN_STREAM"
	case Hello:
		return "HELLO"
	case Noop:
		return "NOOP"
	case Ping:
		return "PING"
	case GoAway:
		return "GOAWAY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Flags are per-frame flags (§4.8).
type Flags uint8

const (
	FlagNone Flags = 0x00
	FlagFin  Flags = 0x01
)

// StreamMask clears the high control bit from a 32-bit stream field,
// per §4.8.
const StreamMask uint32 = 0x7fffffff

// Version is the SPDY protocol version carried in every control frame.
const Version uint16 = 1

// Frame is one decoded SPDY/1 frame (control or data).
type Frame struct {
	IsControl bool
	Type      FrameType // DataFrame for a data frame
	Flags     Flags
	StreamID  uint32 // data frames, and parsed separately for SYN frames
	Payload   []byte // frame body, excluding the 8-byte frame header
}

// PackControlFrame serializes a control frame: 1 bit control marker +
// 15 bits version, 16 bits type, 8 bits flags + 24 bits length, then
// payload.
func PackControlFrame(typ FrameType, flags Flags, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(out[0:2], 0x8000|Version)
	binary.BigEndian.PutUint16(out[2:4], uint16(typ))
	putUint24(out[5:8], uint32(len(payload)))
	out[4] = byte(flags)
	copy(out[8:], payload)
	return out
}

// PackDataFrame serializes a data frame: 31-bit stream id (control bit
// clear), 8 bits flags + 24 bits length, then payload.
func PackDataFrame(streamID uint32, flags Flags, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], streamID&StreamMask)
	putUint24(out[5:8], uint32(len(payload)))
	out[4] = byte(flags)
	copy(out[8:], payload)
	return out
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// frameParserState mirrors §4.8's WAITING / READING_FRAME_DATA states.
type frameParserState int

const (
	stateWaitingHeader frameParserState = iota
	stateReadingData
)

// FrameCallback receives one fully-framed SPDY/1 frame.
type FrameCallback func(f Frame)

// FrameParser is an incremental byte-stream SPDY/1 frame decoder, the
// SPDY analogue of message.Parser's Feed model: one entry point, state
// carried across calls so a frame split across TCP reads still
// produces exactly one callback.
type FrameParser struct {
	buf   []byte
	state frameParserState

	isControl bool
	typ       FrameType
	flags     Flags
	streamID  uint32
	length    uint32

	cb FrameCallback
}

// NewFrameParser creates a FrameParser invoking cb for each decoded
// frame.
func NewFrameParser(cb FrameCallback) *FrameParser {
	return &FrameParser{cb: cb}
}

// Feed appends data and decodes as many complete frames as available.
func (p *FrameParser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		switch p.state {
		case stateWaitingHeader:
			if len(p.buf) < 8 {
				return nil
			}
			hdr := p.buf[:8]
			d1 := binary.BigEndian.Uint32(hdr[0:4])
			if d1&0x80000000 != 0 {
				p.isControl = true
				p.typ = FrameType(binary.BigEndian.Uint16(hdr[2:4]))
				p.streamID = 0
			} else {
				p.isControl = false
				p.typ = DataFrame
				p.streamID = d1 & StreamMask
			}
			p.flags = Flags(hdr[4])
			p.length = getUint24(hdr[5:8])
			p.buf = p.buf[8:]
			p.state = stateReadingData

		case stateReadingData:
			if uint32(len(p.buf)) < p.length {
				return nil
			}
			payload := p.buf[:p.length]
			p.buf = p.buf[p.length:]
			frame := Frame{
				IsControl: p.isControl,
				Type:      p.typ,
				Flags:     p.flags,
				StreamID:  p.streamID,
				Payload:   payload,
			}
			p.state = stateWaitingHeader
			if p.cb != nil {
				p.cb(frame)
			}
			if len(p.buf) == 0 {
				return nil
			}
		}
	}
}
