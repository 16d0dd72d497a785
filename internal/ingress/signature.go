package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// sign computes the hex HMAC-SHA256 of payload under secret — the same
// algorithm as webhooks.SignPayload, renamed for the ingress boundary.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether header carries a valid HMAC-SHA256 of body
// under secret. header may be a bare hex digest (Nango's
// x-nango-hmac-sha256) or prefixed "sha256=<hex>" (GitHub's
// x-hub-signature-256); both forms are accepted.
func VerifyHMAC(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	digest := strings.TrimPrefix(header, "sha256=")
	expected := sign(body, secret)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 1
}
