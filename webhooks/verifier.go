package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 signature of the raw request
// body. The optional scheme prefix matches the upstream tool's convention.
const (
	SignatureHeader = "X-Hub-Signature-256"
	SignaturePrefix = "sha256="
)

// VerifySignature computes HMAC-SHA256 over the exact raw body bytes and
// compares it against the provided hex signature in constant time. A
// signature that fails to decode, or whose decoded length differs from the
// digest length, is rejected before the constant-time comparison.
func VerifySignature(secret string, body []byte, signatureHex string) bool {
	secret = strings.TrimSpace(secret)
	signatureHex = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signatureHex), SignaturePrefix))
	if secret == "" || signatureHex == "" {
		return false
	}

	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
