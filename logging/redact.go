package logging

import (
	"log/slog"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

var sensitiveKeys = []string{
	"passphrase",
	"password",
	"private_key",
	"privatekey",
	"secret",
	"token",
	"session_key",
}

// IsSensitiveKey reports whether an attribute key names secret material.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactedPlaceholder)
	}
	return a
}
