// Package uuidv7 generates time-ordered ids (RFC 9562 UUIDv7) so that
// correction ids sort roughly by creation time within a tenant.
package uuidv7

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
)

// New returns a UUIDv7: 48 bits of unix milliseconds followed by random
// bits, with version and variant stamped per RFC 9562.
func New() (uuid.UUID, error) {
	return NewAt(time.Now())
}

// NewAt returns a UUIDv7 carrying the given timestamp. Exposed so tests
// can fabricate ids at known instants.
func NewAt(ts time.Time) (uuid.UUID, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return uuid.Nil, err
	}

	ms := uint64(ts.UnixMilli())
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)

	b[6] = (b[6] & 0x0f) | 0x70 // version 7
	b[8] = (b[8] & 0x3f) | 0x80 // variant RFC 4122

	return uuid.FromBytes(b[:])
}

// NewString returns the string form of New.
func NewString() (string, error) {
	u, err := New()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
