package wsserver

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Session is one live pairing of a Behavior with a Connection plus an
// id. The id is assigned when the Session passes the Open transition and
// is registered in a SessionManager; it is not cleared when the Session
// is later removed.
type Session struct {
	ID         string
	Behavior   Behavior
	Connection *Connection
	StartTime  time.Time
	Context    *HandshakeContext

	manager *SessionManager
}

// newSessionID returns 16 cryptographically random bytes rendered as 32
// lowercase hex digits. Collisions are not de-duped; the
// caller accepts the (negligible) probability of a collision.
func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read failing means the platform RNG is broken;
		// there is no safe fallback, so surface it the same way the
		// standard library's other crypto/rand callers do — panic.
		panic("wsserver: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
