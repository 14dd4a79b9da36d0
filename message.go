//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package mpl

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// MessageType is the signed type tag carried in every message header.
// Negative values are reserved for control signals, zero and positive values
// are application defined.
type MessageType int16

// Reserved message types.
const (
	// TypeDefault is the default application message type.
	TypeDefault MessageType = 0
	// TypeDisconnect signals an orderly peer shutdown. It is synthesized
	// locally from a zero-length read and never sent by a correct peer.
	TypeDisconnect MessageType = -1
	// TypeStopSending is a local sentinel that stops a send pump. It never
	// leaves the process.
	TypeStopSending MessageType = -2
	// TypeString marks a text payload.
	TypeString MessageType = -3
)

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case TypeDefault:
		return "DEFAULT"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeStopSending:
		return "STOP_SENDING"
	case TypeString:
		return "STRING"
	default:
		return strconv.Itoa(int(t))
	}
}

// IsControl reports whether t is a local control signal rather than a
// payload carrying type.
func (t MessageType) IsControl() bool {
	return t == TypeDisconnect || t == TypeStopSending
}

// HeaderSize is the size of the packed wire header: a uint32 payload length
// followed by an int16 type, both in network byte order.
const HeaderSize = 6

// Header is the host order view of a wire header.
type Header struct {
	Length uint32
	Type   MessageType
}

// put writes h into b in network byte order. b must hold HeaderSize bytes.
func (h Header) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Length)
	binary.BigEndian.PutUint16(b[4:6], uint16(h.Type))
}

// parseHeader converts the network order bytes in b to host order.
func parseHeader(b []byte) Header {
	return Header{
		Length: binary.BigEndian.Uint32(b[0:4]),
		Type:   MessageType(int16(binary.BigEndian.Uint16(b[4:6]))),
	}
}

// Message is one framed application payload.
//
// A message is immutable in shape once built: its payload is never resized in
// place. Fixed-size messages carry an envelope size; only the first Length
// bytes of their payload area are meaningful, the rest is padding.
type Message struct {
	hdr      Header
	data     []byte
	envelope int
}

// NewMessage creates a variable-size message holding a copy of data.
func NewMessage(data []byte, t MessageType) *Message {
	m := &Message{hdr: Header{Length: uint32(len(data)), Type: t}}
	if len(data) > 0 {
		m.data = make([]byte, len(data))
		copy(m.data, data)
	}
	return m
}

// NewStringMessage creates a variable-size message whose payload is s.
func NewStringMessage(s string, t MessageType) *Message {
	m := &Message{hdr: Header{Length: uint32(len(s)), Type: t}}
	if len(s) > 0 {
		m.data = []byte(s)
	}
	return m
}

// NewFixedMessage creates a message of the fixed-size variant: an envelope of
// size bytes including the header, holding a copy of data in its first bytes.
func NewFixedMessage(size int, data []byte, t MessageType) (*Message, error) {
	m, err := NewEmptyFixedMessage(size)
	if err != nil {
		return nil, err
	}
	if len(data) > len(m.data) {
		return nil, fmt.Errorf("%w: payload %d exceeds envelope capacity %d",
			ErrInvalidSize, len(data), len(m.data))
	}
	copy(m.data, data)
	m.hdr = Header{Length: uint32(len(data)), Type: t}
	return m, nil
}

// NewEmptyFixedMessage creates an empty envelope of size bytes.
func NewEmptyFixedMessage(size int) (*Message, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: envelope %d smaller than header %d", ErrInvalidSize, size, HeaderSize)
	}
	return &Message{data: make([]byte, size-HeaderSize), envelope: size}, nil
}

func newControlMessage(t MessageType) *Message {
	return &Message{hdr: Header{Type: t}}
}

// Type returns the message type.
func (m *Message) Type() MessageType {
	return m.hdr.Type
}

// Length returns the payload length in bytes.
func (m *Message) Length() int {
	return int(m.hdr.Length)
}

// Header returns a copy of the host order header.
func (m *Message) Header() Header {
	return m.hdr
}

// HeaderSize returns the size of the wire header.
func (m *Message) HeaderSize() int {
	return HeaderSize
}

// Data returns the payload. The returned slice aliases the message buffer.
func (m *Message) Data() []byte {
	if m.data == nil {
		return nil
	}
	return m.data[:m.hdr.Length]
}

// At returns the payload byte at index i.
func (m *Message) At(i int) (byte, error) {
	if i < 0 || i >= int(m.hdr.Length) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, m.hdr.Length)
	}
	return m.data[i], nil
}

// Text returns the payload as a string. Don't call it on binary payloads.
func (m *Message) Text() string {
	return string(m.Data())
}

// IsFixed reports whether m is of the fixed-size variant.
func (m *Message) IsFixed() bool {
	return m.envelope > 0
}

// EnvelopeSize returns the number of bytes m occupies on the wire.
func (m *Message) EnvelopeSize() int {
	if m.envelope > 0 {
		return m.envelope
	}
	return HeaderSize + int(m.hdr.Length)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := &Message{hdr: m.hdr, envelope: m.envelope}
	if m.data != nil {
		c.data = make([]byte, len(m.data))
		copy(c.data, m.data)
	}
	return c
}

// MoveFrom transfers the contents of src into m, leaving src empty.
func (m *Message) MoveFrom(src *Message) {
	if m == src {
		return
	}
	*m = *src
	*src = Message{}
}

// String implements fmt.Stringer.
func (m *Message) String() string {
	if m.hdr.Type == TypeString {
		return fmt.Sprintf("{type: %v, length: %d, text: %q}", m.hdr.Type, m.hdr.Length, m.Text())
	}
	return fmt.Sprintf("{type: %v, length: %d}", m.hdr.Type, m.hdr.Length)
}

// Encode returns the wire form of m: the header in network byte order
// followed by the payload, padded to the envelope for fixed-size messages.
func Encode(m *Message) []byte {
	b := make([]byte, m.EnvelopeSize())
	m.hdr.put(b)
	copy(b[HeaderSize:], m.Data())
	return b
}

// EncodeFixed returns m placed in an envelope of size bytes.
func EncodeFixed(m *Message, size int) ([]byte, error) {
	if size < HeaderSize || m.Length() > size-HeaderSize {
		return nil, fmt.Errorf("%w: length %d does not fit envelope %d", ErrInvalidSize, m.Length(), size)
	}
	b := make([]byte, size)
	m.hdr.put(b)
	copy(b[HeaderSize:], m.Data())
	return b, nil
}

// Decode parses a variable-size wire message. b must hold exactly one header
// and the payload it declares.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidSize, len(b))
	}
	hdr := parseHeader(b)
	if int64(hdr.Length) != int64(len(b)-HeaderSize) {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, got %d",
			ErrInvalidSize, hdr.Length, len(b)-HeaderSize)
	}
	m := NewMessage(b[HeaderSize:], hdr.Type)
	return m, nil
}

// DecodeFixed parses a fixed-size envelope; the whole of b is the envelope.
func DecodeFixed(b []byte) (*Message, error) {
	m, err := NewEmptyFixedMessage(len(b))
	if err != nil {
		return nil, err
	}
	copy(m.data, b[HeaderSize:])
	if err := m.setHeader(parseHeader(b)); err != nil {
		return nil, err
	}
	return m, nil
}

// setHeader installs a received header into an envelope.
func (m *Message) setHeader(h Header) error {
	if int64(h.Length) > int64(len(m.data)) {
		return fmt.Errorf("%w: header declares %d payload bytes, envelope holds %d",
			ErrInvalidSize, h.Length, len(m.data))
	}
	m.hdr = h
	return nil
}
