package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername folds compatibility characters (NFKC) and trims
// surrounding whitespace so "ａｄｍｉｎ " and "admin" name the same account.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
