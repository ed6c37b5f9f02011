package srtp

import "golang.org/x/xerrors"

// Sentinel errors surfaced by Context.Protect*/Unprotect*. Go callers get
// a typed error instead of a numeric result code.
var (
	ErrMalformedPacket           = xerrors.New("srtp: malformed packet")
	ErrUnsupportedCipher         = xerrors.New("srtp: unsupported cipher")
	ErrHmacCheckFailed           = xerrors.New("srtp: HMAC check failed")
	ErrReplayCheckFailed         = xerrors.New("srtp: replay check failed")
	ErrMkiCheckFailed            = xerrors.New("srtp: MKI check failed")
	ErrMasterKeyRotationRequired = xerrors.New("srtp: master key usage limit reached, rotation required")
)
