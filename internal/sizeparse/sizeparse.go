// Package sizeparse parses junkNAS's "10G"-style storage_size strings.
//
// The grammar is narrower than humanize.ParseBytes: a bare integer
// with an optional single-letter, 1024-based suffix, where any
// trailing garbage makes the whole value the sentinel 0, not a Go
// error. That contract is what config validation keys off, so the
// grammar is implemented directly here.
package sizeparse

import (
	"strconv"
	"strings"
)

const (
	kibi = 1024
	mebi = kibi * 1024
	gibi = mebi * 1024
	tebi = gibi * 1024
)

// Parse parses a size string such as "10G", "512M", or a bare byte
// count such as "2048". Suffixes are case-insensitive: K, M, G, T.
// Any unparseable input (empty string, non-numeric prefix, unknown or
// trailing-garbage suffix, negative value) returns 0.
func Parse(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	mult := int64(1)
	numPart := s

	switch last := s[len(s)-1]; last | 0x20 { //nolint:mnd
	case 'k':
		mult = kibi
		numPart = s[:len(s)-1]
	case 'm':
		mult = mebi
		numPart = s[:len(s)-1]
	case 'g':
		mult = gibi
		numPart = s[:len(s)-1]
	case 't':
		mult = tebi
		numPart = s[:len(s)-1]
	}

	if numPart == "" {
		return 0
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n < 0 {
		return 0
	}

	return n * mult
}

// Valid reports whether s parses to a strictly positive size. Used by
// config validation, which treats an unparseable or zero storage_size
// as invalid.
func Valid(s string) bool {
	return Parse(s) > 0
}
