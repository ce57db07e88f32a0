package security

import (
	"regexp"
	"strings"
)

// sensitivePattern pairs a regexp with the replacement applied when it matches.
type sensitivePattern struct {
	name    string
	pattern *regexp.Regexp
	mask    string
}

// sensitivePatterns are evaluated in order; more specific patterns first so a
// JWT embedded in a bearer header is masked as a JWT, not just "[REDACTED_TOKEN]".
var sensitivePatterns = []sensitivePattern{
	{
		name:    "jwt",
		pattern: regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
		mask:    "[REDACTED_JWT]",
	},
	{
		name:    "private_key",
		pattern: regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+(RSA\s+)?PRIVATE\s+KEY-----`),
		mask:    "[REDACTED_PRIVATE_KEY]",
	},
	{
		name:    "bearer",
		pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`),
		mask:    "Bearer [REDACTED_TOKEN]",
	},
	{
		name:    "password",
		pattern: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?([^'"\s]{6,})['"]?`),
		mask:    "$1=[REDACTED_PASSWORD]",
	},
	{
		name:    "secret",
		pattern: regexp.MustCompile(`(?i)(secret|client_secret)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,})['"]?`),
		mask:    "$1=[REDACTED_SECRET]",
	},
	{
		name:    "api_key",
		pattern: regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{20,})['"]?`),
		mask:    "$1=[REDACTED_API_KEY]",
	},
	{
		name:    "webhook_signature_header",
		pattern: regexp.MustCompile(`(?i)(x-hub-signature-256)\s*:\s*['"]?([^'"\n]{10,})['"]?`),
		mask:    "$1: [REDACTED_SIGNATURE]",
	},
	{
		name:    "authorization_header",
		pattern: regexp.MustCompile(`(?i)authorization\s*:\s*['"]?([^'"\n]{20,})['"]?`),
		mask:    "Authorization: [REDACTED_AUTH]",
	},
}

var sensitiveHeaders = []string{"authorization", "x-hub-signature-256", "x-api-key", "cookie", "set-cookie"}

var sensitiveKeySubstrings = []string{
	"password", "passwd", "pwd", "secret", "token", "key", "auth",
	"authorization", "credential", "private", "api_key", "apikey",
}

// SanitizeString masks every recognized sensitive substring in input. The
// Audit Log contract requires this for any payload field named
// password|secret|token|key.
func SanitizeString(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range sensitivePatterns {
		result = p.pattern.ReplaceAllString(result, p.mask)
	}
	return result
}

// IsSensitiveKey reports whether a field name looks like it carries a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeySubstrings {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SanitizeDetails redacts values of sensitive keys and masks sensitive
// substrings within the remaining string values. Used before any audit
// details map reaches a sink.
func SanitizeDetails(details map[string]string) map[string]string {
	if details == nil {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = "[REDACTED]"
		} else {
			out[k] = SanitizeString(v)
		}
	}
	return out
}

// SanitizeHeaders redacts sensitive HTTP header values for safe logging.
func SanitizeHeaders(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for k, values := range headers {
		lower := strings.ToLower(k)
		sensitive := false
		for _, h := range sensitiveHeaders {
			if lower == h {
				sensitive = true
				break
			}
		}
		if sensitive {
			out[k] = []string{"[REDACTED]"}
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = SanitizeString(v)
		}
		out[k] = masked
	}
	return out
}
