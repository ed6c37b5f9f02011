package stun

import "fmt"

// TURN/STUN error codes used by the allocate/refresh/permission retry
// logic in internal/turn (RFC 5389 §15.6, RFC 5766 §13).
const (
	CodeTryAlternate          = 300
	CodeBadRequest            = 400
	CodeUnauthorized          = 401
	CodeForbidden             = 403
	CodeAllocationMismatch    = 437
	CodeWrongCredentials      = 441
	CodeUnsupportedTransport  = 442
	CodeAllocationQuotaReached = 486
	CodeServerError           = 500
	CodeInsufficientCapacity = 508
	CodeStaleNonce            = 438
)

// AddErrorCode appends an ERROR-CODE attribute (RFC 5389 §15.6): class and
// number encode the 3-digit code, followed by a human-readable reason.
func (msg *Message) AddErrorCode(code int, reason string) {
	value := make([]byte, 4+len(reason))
	value[0] = 0
	value[1] = 0
	value[2] = byte(code / 100)
	value[3] = byte(code % 100)
	copy(value[4:], reason)
	msg.AddAttribute(AttrErrorCode, value)
}

// GetErrorCode decodes the ERROR-CODE attribute, if present.
func (msg *Message) GetErrorCode() (code int, reason string, ok bool) {
	attr := msg.Get(AttrErrorCode)
	if attr == nil || len(attr.Value) < 4 {
		return 0, "", false
	}
	code = int(attr.Value[2])*100 + int(attr.Value[3])
	reason = string(attr.Value[4:])
	return code, reason, true
}

func (msg *Message) String() string {
	if code, reason, ok := msg.GetErrorCode(); ok {
		return fmt.Sprintf("STUN error %d (%s)", code, reason)
	}
	return msg.stringAttributes()
}
