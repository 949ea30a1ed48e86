package common

import (
	"strconv"
	"strings"
)

// ParseUint64orHex parses a decimal or 0x-prefixed hex quantity, ignoring surrounding space.
func ParseUint64orHex(val string) (uint64, error) {
	s := strings.TrimSpace(val)
	if digits, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(digits, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// BytesToMB truncates to whole mebibytes.
func BytesToMB(bytes uint64) uint64 {
	return bytes >> 20
}

// ToLowerWithTrim normalizes config keywords such as log levels and component names.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
