package vcs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadSignature indicates a webhook payload whose signature does not
// verify against the shared secret.
var ErrBadSignature = errors.New("webhook signature mismatch")

// SignatureHeader is the header GitHub sends the payload HMAC in.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks a webhook payload against its sha256= signature
// header using constant-time comparison.
func VerifySignature(payload []byte, signature, secret string) error {
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}
