package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// redactRecord replaces the user identifiers with salted hashes so audit
// rows can be shipped off-box without carrying account names or caller
// addresses.
func redactRecord(rec Record, salt []byte) Record {
	rec.Username = hashString(rec.Username, salt)
	rec.RemoteAddr = hashString(rec.RemoteAddr, salt)
	return rec
}

func hashString(s string, salt []byte) string {
	if s == "" {
		return ""
	}
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
