package ir

import "strings"

// NormalizeAddress lowercases a hex address and strips leading zeros after
// the 0x prefix, so "0x0049D3" and "0x49d3" compare equal. Non-hex strings
// are returned trimmed and otherwise unchanged.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		return addr
	}
	digits := strings.TrimLeft(addr[2:], "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}
