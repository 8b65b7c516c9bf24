package utils

import "strings"

// -----------------------------------------------------------------------------

// MaskAPIKey hides credential-looking query values in an endpoint URL so it
// can be logged safely.
func MaskAPIKey(endpoint string) string {
	idx := strings.Index(endpoint, "?")
	if idx < 0 {
		return endpoint
	}
	return endpoint[:idx] + "?***"
}

// -----------------------------------------------------------------------------

// NormalizeTimeframe lowercases and trims a timeframe token ("1M" -> "1m").
func NormalizeTimeframe(tf string) string {
	return strings.ToLower(strings.TrimSpace(tf))
}
