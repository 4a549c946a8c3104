package trustkit

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newRecordID returns a UUID for roles, grants and invites.
func newRecordID() string {
	return uuid.NewString()
}

// newLogID returns a lexicographically sortable identifier for append-only
// log entries stamped at t.
func newLogID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// inviteAlphabet omits characters that are easily confused (0/O, 1/I/L).
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultInviteCodeLength is used when no length is configured.
const DefaultInviteCodeLength = 12

// GenerateInviteCode returns a random code drawn from a secure source.
func GenerateInviteCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultInviteCodeLength
	}
	max := big.NewInt(int64(len(inviteAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = inviteAlphabet[n.Int64()]
	}
	return string(buf), nil
}
