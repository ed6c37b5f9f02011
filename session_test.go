package rtcsecure

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/rtcsecure/internal/dtls"
	"github.com/lanikai/rtcsecure/internal/ice"
	"github.com/lanikai/rtcsecure/internal/srtp"
)

// newTestSession builds a Session around a freshly constructed, never
// gathered *ice.Agent — enough for exercising Session's own logic
// (counters, rekey routing, close) without running a real ICE exchange.
func newTestSession(cfg Config) *Session {
	return NewSession(ice.NewAgent(nil), cfg)
}

func TestSplitKeyingMaterial(t *testing.T) {
	// 16-byte keys, 14-byte salts: AES_CM_128_HMAC_SHA1_80's sizes.
	const keyLen, saltLen = 16, 14
	km := make(dtls.KeyingMaterial, 2*keyLen+2*saltLen)
	for i := range km {
		km[i] = byte(i)
	}

	clientKey, serverKey, clientSalt, serverSalt := splitKeyingMaterial(km, keyLen, saltLen)

	if !bytes.Equal(clientKey, km[0:keyLen]) {
		t.Errorf("clientKey = %x, want %x", clientKey, km[0:keyLen])
	}
	if !bytes.Equal(serverKey, km[keyLen:2*keyLen]) {
		t.Errorf("serverKey = %x, want %x", serverKey, km[keyLen:2*keyLen])
	}
	if !bytes.Equal(clientSalt, km[2*keyLen:2*keyLen+saltLen]) {
		t.Errorf("clientSalt = %x, want %x", clientSalt, km[2*keyLen:2*keyLen+saltLen])
	}
	if !bytes.Equal(serverSalt, km[2*keyLen+saltLen:]) {
		t.Errorf("serverSalt = %x, want %x", serverSalt, km[2*keyLen+saltLen:])
	}
}

func TestNewSessionDefaultsHandshakeTimeout(t *testing.T) {
	s := newTestSession(Config{})
	if s.cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("default HandshakeTimeout = %v, want 30s", s.cfg.HandshakeTimeout)
	}

	s2 := newTestSession(Config{HandshakeTimeout: 5 * time.Second})
	if s2.cfg.HandshakeTimeout != 5*time.Second {
		t.Errorf("explicit HandshakeTimeout = %v, want 5s", s2.cfg.HandshakeTimeout)
	}
}

func TestCountersSnapshotIsIndependent(t *testing.T) {
	s := newTestSession(Config{})

	s.noteFailure(srtp.ErrHmacCheckFailed)
	s.noteFailure(srtp.ErrReplayCheckFailed)
	s.noteFailure(srtp.ErrReplayCheckFailed)
	s.noteFailure(srtp.ErrMkiCheckFailed)
	s.noteFailure(xerrors.New("some other malformed-packet error"))
	s.noteFailure(srtp.ErrMasterKeyRotationRequired) // not counted: already on Rekey()

	c := s.Counters()
	if c.HmacFailures != 1 {
		t.Errorf("HmacFailures = %d, want 1", c.HmacFailures)
	}
	if c.ReplayFailures != 2 {
		t.Errorf("ReplayFailures = %d, want 2", c.ReplayFailures)
	}
	if c.MkiFailures != 1 {
		t.Errorf("MkiFailures = %d, want 1", c.MkiFailures)
	}
	if c.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", c.Malformed)
	}

	// Mutating the returned snapshot must not affect the session's live
	// counters.
	c.HmacFailures = 999
	if s.Counters().HmacFailures != 1 {
		t.Error("Counters() snapshot aliases live state")
	}
}

func TestForwardRekeyRoutesAllFourReasons(t *testing.T) {
	s := newTestSession(Config{})

	cases := []struct {
		reason srtp.RekeyReason
		local  bool
		want   RekeyReason
	}{
		{srtp.RekeyRTP, true, RekeyLocalRTP},
		{srtp.RekeyRTCP, true, RekeyLocalRTCP},
		{srtp.RekeyRTP, false, RekeyRemoteRTP},
		{srtp.RekeyRTCP, false, RekeyRemoteRTCP},
	}

	for _, c := range cases {
		s.forwardRekey(srtp.RekeyEvent{Reason: c.reason}, c.local)
		select {
		case ev := <-s.rekey:
			if ev.Reason != c.want {
				t.Errorf("forwardRekey(%v, local=%v) = %v, want %v", c.reason, c.local, ev.Reason, c.want)
			}
		default:
			t.Fatalf("forwardRekey(%v, local=%v) delivered nothing", c.reason, c.local)
		}
	}
}

func TestForwardRekeyDropsRatherThanBlocks(t *testing.T) {
	s := newTestSession(Config{})

	// The rekey channel is buffered at 4; sending more than that must
	// not deadlock forwardRekey (best-effort delivery, spec §4.6's
	// notification is advisory, not guaranteed-once).
	for i := 0; i < 10; i++ {
		s.forwardRekey(srtp.RekeyEvent{Reason: srtp.RekeyRTP}, true)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestSession(Config{})

	// Close must tolerate a nil mux/dtlsPeer (never Connect'd) and must
	// not panic or block on a second call.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Close panicked: %v", r)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Close("test")
		_ = s.Close("test again")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
