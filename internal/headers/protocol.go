// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package headers

import "strings"

// validProtocolChars are the characters the Sec-WebSocket-Protocol field
// value may contain per RFC 6455 (token characters minus separators).
const validProtocolChars = "!#$%&'*+-.0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`abcdefghijklmnopqrstuvwxyz|~"

var protocolSafe [256]bool

func init() {
	for i := 0; i < len(validProtocolChars); i++ {
		protocolSafe[validProtocolChars[i]] = true
	}
	// The reserve character introduces escapes and is never emitted bare.
	protocolSafe['%'] = false
}

// EncodeProtocol escapes a string so it is a valid Sec-WebSocket-Protocol
// token. Every byte outside the token set, and the % reserve character,
// becomes a lowercase %hh escape.
func EncodeProtocol(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if protocolSafe[c] {
			b.WriteByte(c)
		} else {
			const hex = "0123456789abcdef"
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		}
	}
	return b.String()
}

// DecodeProtocol reverses EncodeProtocol. A truncated escape at the end
// of input stops decoding; an escape with invalid hex digits is kept as
// a literal reserve character.
func DecodeProtocol(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+3 > len(s) {
			break
		}
		hi, okHi := unhex(s[i+1])
		lo, okLo := unhex(s[i+2])
		if !okHi || !okLo {
			b.WriteByte('%')
			i++
			continue
		}
		b.WriteByte(hi<<4 | lo)
		i += 3
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
