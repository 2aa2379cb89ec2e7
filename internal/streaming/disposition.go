// SPDX-License-Identifier: MIT

package streaming

import (
	"fmt"
	"strings"
)

// ContentDisposition renders an inline disposition carrying the file name
// in RFC 5987 form. Unicode names are never written into the header
// directly; every byte outside the attr-char set is percent-encoded from
// the name's UTF-8 bytes.
func ContentDisposition(filename string) string {
	return "inline; filename*=UTF-8''" + encodeRFC5987(filename)
}

func encodeRFC5987(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// isAttrChar reports whether c may appear literally in an ext-value
// (RFC 5987 attr-char).
func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '&', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
