package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[redacted]"

// sensitiveKeys name attributes that carry handshake secrets or account
// credentials. Grouped keys match on their last segment.
var sensitiveKeys = map[string]struct{}{
	"secret":           {},
	"auth_token":       {},
	"session_token":    {},
	"captcha":          {},
	"confirmation_2fa": {},
}

func redact(key string, value slog.Value) slog.Value {
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		key = key[idx+1:]
	}
	if _, ok := sensitiveKeys[strings.ToLower(key)]; !ok {
		return value
	}
	if value.Kind() == slog.KindString && value.String() == "" {
		return value
	}
	return slog.StringValue(RedactedValue)
}
