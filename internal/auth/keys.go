// Package auth signs and verifies the check token that authenticates
// self-triggered job requests.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// CheckToken returns the hex HMAC-SHA256 of the decimal job id keyed with secret.
func CheckToken(secret string, jobID int64) string {
	return sign(secret, strconv.FormatInt(jobID, 10))
}

// VerifyCheckToken reports whether token is the check token for the raw job id
// parameter. The comparison is constant-time. An empty id or token never verifies.
func VerifyCheckToken(secret, jobID, token string) bool {
	if jobID == "" || token == "" {
		return false
	}
	expected := sign(secret, jobID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(token)))
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
