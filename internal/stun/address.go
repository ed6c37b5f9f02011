package stun

import (
	"encoding/binary"
	"net"

	"golang.org/x/xerrors"
)

const (
	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// encodeAddress builds the MAPPED-ADDRESS / XOR-MAPPED-ADDRESS /
// XOR-PEER-ADDRESS / XOR-RELAYED-ADDRESS value layout (RFC 5389 §15.1,
// §15.2; RFC 5766 §14.3). When xor is true the port and address are
// XORed with the magic cookie and, for the address, the transaction ID
// (RFC 5389 §15.2).
func encodeAddress(addr *net.UDPAddr, transactionID string, xor bool) []byte {
	ip4 := addr.IP.To4()

	var value []byte
	if ip4 != nil {
		value = make([]byte, 8)
		value[1] = familyIPv4
		binary.BigEndian.PutUint16(value[2:4], uint16(addr.Port))
		copy(value[4:8], ip4)
	} else {
		ip16 := addr.IP.To16()
		value = make([]byte, 20)
		value[1] = familyIPv6
		binary.BigEndian.PutUint16(value[2:4], uint16(addr.Port))
		copy(value[4:20], ip16)
	}

	if xor {
		xorBytes(value[2:4], magicCookieBytes[0:2])
		xorBytes(value[4:8], magicCookieBytes[:])
		if len(value) > 8 {
			xorBytes(value[8:20], []byte(transactionID))
		}
	}
	return value
}

func decodeAddress(value []byte, transactionID string, xor bool) (*net.UDPAddr, error) {
	if len(value) < 4 {
		return nil, xerrors.New("stun: truncated address attribute")
	}
	family := value[1]
	port := binary.BigEndian.Uint16(value[2:4])

	var ip net.IP
	switch family {
	case familyIPv4:
		if len(value) < 8 {
			return nil, xerrors.New("stun: truncated IPv4 address attribute")
		}
		ip = append(net.IP(nil), value[4:8]...)
	case familyIPv6:
		if len(value) < 20 {
			return nil, xerrors.New("stun: truncated IPv6 address attribute")
		}
		ip = append(net.IP(nil), value[4:20]...)
	default:
		return nil, xerrors.Errorf("stun: unknown address family %#x", family)
	}

	if xor {
		port ^= magicCookie >> 16
		if family == familyIPv4 {
			xorBytes(ip, magicCookieBytes[:])
		} else {
			xorBytes(ip[0:4], magicCookieBytes[:])
			xorBytes(ip[4:16], []byte(transactionID))
		}
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

// SetXorMappedAddress adds an XOR-MAPPED-ADDRESS attribute (RFC 5389 §15.2).
func (msg *Message) SetXorMappedAddress(addr *net.UDPAddr) {
	msg.AddAttribute(AttrXorMappedAddress, encodeAddress(addr, msg.TransactionID, true))
}

// SetXorRelayedAddress adds an XOR-RELAYED-ADDRESS attribute (RFC 5766 §14.5).
func (msg *Message) SetXorRelayedAddress(addr *net.UDPAddr) {
	msg.AddAttribute(AttrXorRelayedAddress, encodeAddress(addr, msg.TransactionID, true))
}

// SetXorPeerAddress adds an XOR-PEER-ADDRESS attribute (RFC 5766 §14.3).
func (msg *Message) SetXorPeerAddress(addr *net.UDPAddr) {
	msg.AddAttribute(AttrXorPeerAddress, encodeAddress(addr, msg.TransactionID, true))
}

// GetMappedAddress returns the (XOR-)MAPPED-ADDRESS attribute's value, or
// nil if neither attribute is present.
func (msg *Message) GetMappedAddress() (*net.UDPAddr, error) {
	if attr := msg.Get(AttrXorMappedAddress); attr != nil {
		return decodeAddress(attr.Value, msg.TransactionID, true)
	}
	if attr := msg.Get(AttrMappedAddress); attr != nil {
		return decodeAddress(attr.Value, msg.TransactionID, false)
	}
	return nil, nil
}

// GetXorRelayedAddress returns the relay (TURN-allocated) transport
// address, or nil if the attribute is absent.
func (msg *Message) GetXorRelayedAddress() (*net.UDPAddr, error) {
	attr := msg.Get(AttrXorRelayedAddress)
	if attr == nil {
		return nil, nil
	}
	return decodeAddress(attr.Value, msg.TransactionID, true)
}

// GetXorPeerAddress returns the XOR-PEER-ADDRESS attribute's value, or nil.
func (msg *Message) GetXorPeerAddress() (*net.UDPAddr, error) {
	attr := msg.Get(AttrXorPeerAddress)
	if attr == nil {
		return nil, nil
	}
	return decodeAddress(attr.Value, msg.TransactionID, true)
}

// DecodeAddressAttr decodes a raw (non-XORed) address attribute value,
// such as MAPPED-ADDRESS or ALTERNATE-SERVER (RFC 5389 §15.11).
func (msg *Message) DecodeAddressAttr(value []byte) (*net.UDPAddr, error) {
	return decodeAddress(value, "", false)
}
