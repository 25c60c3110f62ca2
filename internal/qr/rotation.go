// Package qr derives the rotating challenge shown on the lecturer's screen.
//
// Tokens are recomputed rather than stored: a token is an HMAC over the rotation
// window index, keyed by a key derived from the session secret and the phase.
// A token therefore never validates under a phase other than the one it was
// generated for.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLabel   = "classpresence/qr-rotation/v1:"
	tokenBytes = 16
)

var (
	ErrEmptySecret     = errors.New("qr: session secret required")
	ErrEmptySession    = errors.New("qr: session id required")
	ErrInvalidRotation = errors.New("qr: rotation interval must be positive")
)

// Payload is what a display device renders as a QR code.
type Payload struct {
	Token string `json:"token"`
	TS    int64  `json:"ts"`
	Seq   int64  `json:"seq"`
	Phase string `json:"phase"`
}

// WindowIndex returns floor(now / rotation) in milliseconds.
func WindowIndex(now time.Time, rotation time.Duration) int64 {
	ms := rotation.Milliseconds()
	if ms <= 0 {
		return 0
	}
	t := now.UnixMilli()
	idx := t / ms
	if t%ms != 0 && t < 0 {
		idx--
	}
	return idx
}

// Generate returns the payload for the rotation window containing now.
func Generate(sessionID string, secret []byte, phase string, rotation time.Duration, now time.Time) (Payload, error) {
	if err := checkInputs(sessionID, secret, rotation); err != nil {
		return Payload{}, err
	}
	seq := WindowIndex(now, rotation)
	return Payload{
		Token: token(phaseKey(sessionID, secret, phase), seq),
		TS:    seq * rotation.Milliseconds(),
		Seq:   seq,
		Phase: phase,
	}, nil
}

// NextRotation returns the time left until the next window boundary.
func NextRotation(rotation time.Duration, now time.Time) time.Duration {
	ms := rotation.Milliseconds()
	if ms <= 0 {
		return 0
	}
	next := (WindowIndex(now, rotation) + 1) * ms
	return time.Duration(next-now.UnixMilli()) * time.Millisecond
}

// Validate accepts offered if it matches the token of the current or the
// immediately preceding window under phase.
func Validate(sessionID string, secret []byte, phase string, rotation time.Duration, offered string, now time.Time) bool {
	if offered == "" || checkInputs(sessionID, secret, rotation) != nil {
		return false
	}
	key := phaseKey(sessionID, secret, phase)
	seq := WindowIndex(now, rotation)
	ok := false
	for _, s := range []int64{seq, seq - 1} {
		if subtle.ConstantTimeCompare([]byte(token(key, s)), []byte(offered)) == 1 {
			ok = true
		}
	}
	return ok
}

func checkInputs(sessionID string, secret []byte, rotation time.Duration) error {
	switch {
	case sessionID == "":
		return ErrEmptySession
	case len(secret) == 0:
		return ErrEmptySecret
	case rotation.Milliseconds() <= 0:
		return ErrInvalidRotation
	}
	return nil
}

func phaseKey(sessionID string, secret []byte, phase string) []byte {
	r := hkdf.New(sha256.New, secret, []byte(sessionID), []byte(keyLabel+phase))
	key := make([]byte, sha256.Size)
	_, _ = io.ReadFull(r, key)
	return key
}

func token(key []byte, seq int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	mac := hmac.New(sha256.New, key)
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil)[:tokenBytes])
}
