package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashUserKey returns a filesystem-safe identifier for a user ID.
func HashUserKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SignHMAC returns the hex HMAC-SHA256 of payload under key.
func SignHMAC(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sig matches payload under key in constant time.
func VerifyHMAC(key []byte, payload, sig string) bool {
	expected := SignHMAC(key, payload)
	return hmac.Equal([]byte(expected), []byte(sig))
}
