// Package token mints and verifies the gateway's connection credentials:
// login tokens handed out by /login and consumed once at the WebSocket
// upgrade, and session identifiers used to key the connection registry.
//
// The token is deliberately structural, not cryptographic: validity is
// checked by shape alone and no server-side store exists.  Rotating to
// signed tokens is future work; the shape check below stays a prerequisite
// either way.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// prefix is the fixed first field of every token.
const prefix = "token"

// Generate mints a token for userID with the shape
//
//	token_{userId}_{nanoseconds}_{salt}
//
// where nanoseconds is the mint time and salt is 4 random bytes in hex.
func Generate(userID string) string {
	salt := make([]byte, 4)
	if _, err := rand.Read(salt); err != nil {
		// Extremely unlikely; fall back to a time-derived salt so login
		// still succeeds.
		return fmt.Sprintf("%s_%s_%d_%08x", prefix, userID, time.Now().UnixNano(), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%s_%s_%d_%s", prefix, userID, time.Now().UnixNano(), hex.EncodeToString(salt))
}

// Verify checks the structural validity of tok and returns the embedded
// user id.  A token is valid iff it starts with "token_", splits into
// exactly four underscore-delimited fields, and the second field is a
// non-empty decimal number.  Any other shape rejects.
func Verify(tok string) (userID string, ok bool) {
	if !strings.HasPrefix(tok, prefix+"_") {
		return "", false
	}
	fields := strings.Split(tok, "_")
	if len(fields) != 4 {
		return "", false
	}
	id := fields[1]
	if id == "" || !isDigits(id) {
		return "", false
	}
	return id, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NewSessionID returns a fresh session identifier: 256 bits of
// cryptographically strong randomness rendered as lowercase hex.  If the
// CSPRNG fails the id falls back to a time-seeded UUID (v5 over the mint
// instant), which cannot touch the failing entropy source; onFail receives
// the CSPRNG error so the caller can log it.
func NewSessionID(onFail func(error)) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		if onFail != nil {
			onFail(err)
		}
		seed := fmt.Sprintf("gateserver-session-%d", time.Now().UnixNano())
		u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
		return strings.ReplaceAll(u.String(), "-", "")
	}
	return hex.EncodeToString(buf)
}
