package token

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPassword returns the lowercase hex SHA-256 digest of the UTF-8
// password.  The stored column and the login comparison both use this exact
// rendering; upgrading to a salted KDF is possible behind the same
// contract.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
