package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the provider callback signature: lowercase hex HMAC-SHA256 over "sessionId|paymentId".
func Sign(secret []byte, sessionID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the expected value byte for byte.
func VerifySignature(secret []byte, sessionID, paymentID, signature string) bool {
	expected := Sign(secret, sessionID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
