package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive attribute values.
const RedactedValue = "[REDACTED]"

// plainKeys are attribute keys whose values never carry secrets or full party
// identities.
var plainKeys = map[string]bool{
	"component": true,
	"env":       true,
	"error":     true,
	"escrow_id": true,
	"method":    true,
	"outcome":   true,
	"reason":    true,
	"sequence":  true,
	"service":   true,
	"status":    true,
}

// MaskField logs value under key unless the key may carry sensitive data, in
// which case the value is replaced by RedactedValue.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// ShortAddress keeps the head and tail of an address so log lines can be
// correlated without logging the full party identity.
func ShortAddress(key, addr string) slog.Attr {
	if len(addr) <= 12 {
		return slog.String(key, addr)
	}
	return slog.String(key, addr[:8]+"…"+addr[len(addr)-4:])
}
