// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int after trimming surrounding spaces.
// Empty or unparsable input yields def.
//
//	utils.AtoiDefault("42", 0)   // 42
//	utils.AtoiDefault(" 7 ", 0)  // 7
//	utils.AtoiDefault("x", 5)    // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi]. hi < lo is treated as no upper bound.
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi >= lo && n > hi {
		return hi
	}
	return n
}
