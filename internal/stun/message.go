// Package stun implements the STUN message codec shared by ICE
// connectivity checks and the TURN control channel (RFC 5389, extended by
// RFC 5766's TURN-specific attributes and error codes). It does not open
// sockets; callers read/write Messages over whatever net.PacketConn or
// mux.Endpoint they already have.
package stun

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// Class is the 2-bit STUN message class.
type Class uint16

const (
	Request        Class = 0
	Indication      Class = 1
	SuccessResponse Class = 2
	ErrorResponse   Class = 3
)

// Method is the 12-bit STUN message method.
type Method uint16

const (
	BindingMethod           Method = 0x001
	AllocateMethod          Method = 0x003
	RefreshMethod           Method = 0x004
	SendMethod              Method = 0x006
	DataMethod              Method = 0x007
	CreatePermissionMethod  Method = 0x008
	ChannelBindMethod       Method = 0x009
)

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xa4, 0x42}

// Message is a parsed STUN (or TURN, which reuses the STUN wire format)
// message.
type Message struct {
	Length        uint16 // length of the attribute section, NOT including the header
	Class         Class
	Method        Method
	TransactionID string // 12 raw bytes
	Attributes    []*Attribute
}

// New creates an empty message of the given class/method. A random
// transaction ID is generated if transactionID is empty.
func New(class Class, method Method, transactionID string) (*Message, error) {
	if class > 3 {
		return nil, xerrors.Errorf("stun: invalid message class %#x", class)
	}
	if method > 0xfff {
		return nil, xerrors.Errorf("stun: invalid message method %#x", method)
	}
	if transactionID == "" {
		buf := make([]byte, 12)
		if _, err := rand.Read(buf); err != nil {
			return nil, xerrors.Errorf("stun: generating transaction id: %w", err)
		}
		transactionID = string(buf)
	} else if len(transactionID) != 12 {
		return nil, xerrors.Errorf("stun: transaction id must be 12 bytes, got %d", len(transactionID))
	}
	return &Message{Class: class, Method: method, TransactionID: transactionID}, nil
}

func NewBindingRequest(transactionID string) (*Message, error) {
	return New(Request, BindingMethod, transactionID)
}

func NewBindingIndication() (*Message, error) {
	msg, err := New(Indication, BindingMethod, "")
	if err != nil {
		return nil, err
	}
	msg.AddFingerprint()
	return msg, nil
}

// Parse parses a single STUN message from data. It returns (nil, nil) if
// data does not look like a STUN message at all (the first two bits of
// the type field are non-zero, or the magic cookie is absent), so callers
// can probe arbitrary datagrams cheaply (see internal/mux.MatchSTUN for
// the same check performed without a full parse).
func Parse(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, nil
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType>>14 != 0 {
		return nil, nil
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 {
		return nil, nil
	}

	if binary.BigEndian.Uint32(data[4:8]) != magicCookie {
		return nil, nil
	}

	if len(data) < headerLength+int(length) {
		return nil, xerrors.Errorf("stun: truncated message: header says %d bytes, have %d", length, len(data)-headerLength)
	}

	class, method := decomposeMessageType(messageType)
	msg := &Message{
		Length:        length,
		Class:         class,
		Method:        method,
		TransactionID: string(data[8:20]),
	}

	b := bytes.NewBuffer(data[headerLength : headerLength+int(length)])
	for b.Len() > 0 {
		attr, err := parseAttribute(b)
		if err != nil {
			return msg, err
		}
		msg.Attributes = append(msg.Attributes, attr)
	}
	return msg, nil
}

// Bytes serializes the message, including header and all attributes.
func (msg *Message) Bytes() []byte {
	buf := make([]byte, headerLength+int(msg.Length))
	b := bytes.NewBuffer(buf[:0])

	messageType := composeMessageType(msg.Class, msg.Method)
	writeUint16(b, messageType)
	writeUint16(b, msg.Length)
	writeUint32(b, magicCookie)
	b.WriteString(msg.TransactionID)

	for _, attr := range msg.Attributes {
		writeAttribute(b, attr)
	}
	return buf
}

func (msg *Message) stringAttributes() string {
	var b strings.Builder
	switch msg.Class {
	case Request:
		b.WriteString("STUN request")
	case Indication:
		b.WriteString("STUN indication")
	case SuccessResponse:
		b.WriteString("STUN success response")
	case ErrorResponse:
		b.WriteString("STUN error response")
	}
	if msg.Method != BindingMethod {
		fmt.Fprintf(&b, ", method=%#x", msg.Method)
	}
	fmt.Fprintf(&b, ", tid=%s", hex.EncodeToString([]byte(msg.TransactionID)))
	for _, attr := range msg.Attributes {
		fmt.Fprintf(&b, ", %s", attr.Type)
	}
	return b.String()
}

// AddAttribute appends an attribute and updates msg.Length. The value is
// copied.
func (msg *Message) AddAttribute(t AttrType, v []byte) *Attribute {
	value := make([]byte, len(v))
	copy(value, v)
	attr := &Attribute{Type: t, Length: uint16(len(value)), Value: value}
	msg.Attributes = append(msg.Attributes, attr)
	msg.Length += uint16(attr.numBytes())
	return attr
}

// Get returns the first attribute of the given type, or nil.
func (msg *Message) Get(t AttrType) *Attribute {
	for _, attr := range msg.Attributes {
		if attr.Type == t {
			return attr
		}
	}
	return nil
}

// Figure 3, RFC 5389 §6: the class and method are interleaved across the
// 14 significant bits of the message type field.
const (
	classMask1  = 0x0100
	classMask2  = 0x0010
	methodMask1 = 0x3e00
	methodMask2 = 0x00e0
	methodMask3 = 0x000f
)

func composeMessageType(class Class, method Method) uint16 {
	c, m := uint16(class), uint16(method)
	t := (c<<7)&classMask1 | (c<<4)&classMask2
	t |= (m<<2)&methodMask1 | (m<<1)&methodMask2 | (m & methodMask3)
	return t
}

func decomposeMessageType(t uint16) (Class, Method) {
	class := (t&classMask1)>>7 | (t&classMask2)>>4
	method := (t&methodMask1)>>2 | (t&methodMask2)>>1 | (t & methodMask3)
	return Class(class), Method(method)
}

func writeUint16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func writeUint32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func xorBytes(dest []byte, xor []byte) {
	for i := range dest {
		dest[i] ^= xor[i]
	}
}
