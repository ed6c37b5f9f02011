package stun

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// AttrType is a STUN/TURN attribute type (RFC 5389 §18.2, RFC 5766 §14).
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000a
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorRelayedAddress AttrType = 0x0016 // XOR-RELAYED-ADDRESS (TURN)
	AttrRequestedAddressFamily AttrType = 0x0017
	AttrEvenPort          AttrType = 0x0018
	AttrRequestedTransport AttrType = 0x0019
	AttrDontFragment      AttrType = 0x001a
	AttrXorPeerAddress    AttrType = 0x0012 // TURN
	AttrData              AttrType = 0x0013 // TURN
	AttrXorMappedAddress  AttrType = 0x0020
	AttrReservationToken  AttrType = 0x0022
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrLifetime          AttrType = 0x000d
	AttrChannelNumber     AttrType = 0x000c
	AttrSoftware          AttrType = 0x8022
	AttrAlternateServer   AttrType = 0x8023
	AttrFingerprint       AttrType = 0x8028
	AttrIceControlled     AttrType = 0x8029
	AttrIceControlling    AttrType = 0x802a
)

func (t AttrType) String() string {
	switch t {
	case AttrMappedAddress:
		return "MAPPED-ADDRESS"
	case AttrUsername:
		return "USERNAME"
	case AttrMessageIntegrity:
		return "MESSAGE-INTEGRITY"
	case AttrErrorCode:
		return "ERROR-CODE"
	case AttrUnknownAttributes:
		return "UNKNOWN-ATTRIBUTES"
	case AttrRealm:
		return "REALM"
	case AttrNonce:
		return "NONCE"
	case AttrXorRelayedAddress:
		return "XOR-RELAYED-ADDRESS"
	case AttrRequestedAddressFamily:
		return "REQUESTED-ADDRESS-FAMILY"
	case AttrEvenPort:
		return "EVEN-PORT"
	case AttrRequestedTransport:
		return "REQUESTED-TRANSPORT"
	case AttrDontFragment:
		return "DONT-FRAGMENT"
	case AttrXorPeerAddress:
		return "XOR-PEER-ADDRESS"
	case AttrData:
		return "DATA"
	case AttrXorMappedAddress:
		return "XOR-MAPPED-ADDRESS"
	case AttrReservationToken:
		return "RESERVATION-TOKEN"
	case AttrPriority:
		return "PRIORITY"
	case AttrUseCandidate:
		return "USE-CANDIDATE"
	case AttrLifetime:
		return "LIFETIME"
	case AttrChannelNumber:
		return "CHANNEL-NUMBER"
	case AttrSoftware:
		return "SOFTWARE"
	case AttrAlternateServer:
		return "ALTERNATE-SERVER"
	case AttrFingerprint:
		return "FINGERPRINT"
	case AttrIceControlled:
		return "ICE-CONTROLLED"
	case AttrIceControlling:
		return "ICE-CONTROLLING"
	default:
		return "unknown-attribute"
	}
}

// Attribute is a single TLV inside a Message.
type Attribute struct {
	Type   AttrType
	Length uint16
	Value  []byte
}

func parseAttribute(b *bytes.Buffer) (*Attribute, error) {
	if b.Len() < 4 {
		return nil, xerrors.Errorf("stun: truncated attribute header (%d bytes left)", b.Len())
	}
	typ := AttrType(binary.BigEndian.Uint16(b.Next(2)))
	length := binary.BigEndian.Uint16(b.Next(2))
	if int(length) > b.Len() {
		return nil, xerrors.Errorf("stun: attribute %s claims length %d, only %d remain", typ, length, b.Len())
	}
	value := make([]byte, length)
	copy(value, b.Next(int(length)))
	b.Next(pad4(length))
	return &Attribute{typ, length, value}, nil
}

func writeAttribute(b *bytes.Buffer, attr *Attribute) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(attr.Type))
	binary.BigEndian.PutUint16(hdr[2:4], attr.Length)
	b.Write(hdr[:])
	b.Write(attr.Value)
	b.Write(make([]byte, pad4(attr.Length)))
}

func (attr *Attribute) numBytes() int {
	return 4 + int(attr.Length) + pad4(attr.Length)
}

// pad4 returns the padding (0-3 bytes) needed to round n up to a 4-byte
// boundary.
func pad4(n uint16) int {
	return -int(n) & 3
}

func (attr *Attribute) Uint32() uint32 {
	return binary.BigEndian.Uint32(attr.Value)
}

func (attr *Attribute) String() string {
	return string(attr.Value)
}
