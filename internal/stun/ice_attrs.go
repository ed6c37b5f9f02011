package stun

import "encoding/binary"

// ICE connectivity-check attributes (RFC 8445 §16.1).

func (msg *Message) AddPriority(p uint32) {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], p)
	msg.AddAttribute(AttrPriority, v[:])
}

func (msg *Message) GetPriority() uint32 {
	if attr := msg.Get(AttrPriority); attr != nil {
		return attr.Uint32()
	}
	return 0
}

func (msg *Message) AddUseCandidate() {
	msg.AddAttribute(AttrUseCandidate, nil)
}

func (msg *Message) HasUseCandidate() bool {
	return msg.Get(AttrUseCandidate) != nil
}

func (msg *Message) AddIceControlled(tiebreaker uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], tiebreaker)
	msg.AddAttribute(AttrIceControlled, v[:])
}

func (msg *Message) AddIceControlling(tiebreaker uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], tiebreaker)
	msg.AddAttribute(AttrIceControlling, v[:])
}

// TURN long-term-credential and allocation attributes (RFC 5766 §14).

func (msg *Message) AddUsername(username string) {
	msg.AddAttribute(AttrUsername, []byte(username))
}

func (msg *Message) GetUsername() string {
	if attr := msg.Get(AttrUsername); attr != nil {
		return string(attr.Value)
	}
	return ""
}

func (msg *Message) AddRealm(realm string) {
	msg.AddAttribute(AttrRealm, []byte(realm))
}

func (msg *Message) GetRealm() string {
	if attr := msg.Get(AttrRealm); attr != nil {
		return string(attr.Value)
	}
	return ""
}

func (msg *Message) AddNonce(nonce string) {
	msg.AddAttribute(AttrNonce, []byte(nonce))
}

func (msg *Message) GetNonce() string {
	if attr := msg.Get(AttrNonce); attr != nil {
		return string(attr.Value)
	}
	return ""
}

func (msg *Message) AddLifetime(seconds uint32) {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], seconds)
	msg.AddAttribute(AttrLifetime, v[:])
}

func (msg *Message) GetLifetime() (uint32, bool) {
	attr := msg.Get(AttrLifetime)
	if attr == nil {
		return 0, false
	}
	return attr.Uint32(), true
}

// RequestedTransportUDP is the protocol number for UDP (RFC 5766 §14.7);
// it is the only transport this module's TURN client requests.
const RequestedTransportUDP = 17

func (msg *Message) AddRequestedTransport(protocol byte) {
	v := [4]byte{protocol, 0, 0, 0}
	msg.AddAttribute(AttrRequestedTransport, v[:])
}
