// Package security implements the Signature Verifier and the payload
// sanitization / webhook dedup helpers used by the Webhook Intake and
// Audit Log.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

// HeaderPrefix is the scheme prefix GitHub-style webhook signatures use.
const HeaderPrefix = "sha256="

// VerifySignature validates that header is a constant-time-correct
// HMAC-SHA256 MAC of body under secret. Returns SignatureMissing
// when header is empty, SignatureInvalid otherwise, nil on success.
func VerifySignature(secret []byte, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return svcerr.NewSignatureMissing()
	}

	expectedHex := strings.TrimPrefix(header, HeaderPrefix)
	expectedMAC, err := hex.DecodeString(expectedHex)
	if err != nil {
		return svcerr.NewSignatureInvalid()
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	computed := mac.Sum(nil)

	if !hmac.Equal(computed, expectedMAC) {
		return svcerr.NewSignatureInvalid()
	}
	return nil
}

// Sign computes the hex-encoded "sha256=<hex>" header value for body under secret.
// Used by tests and by any internal resender that must reproduce the header.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return HeaderPrefix + hex.EncodeToString(mac.Sum(nil))
}
