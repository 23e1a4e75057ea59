// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package headers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// BareHeadersName is the envelope header carrying the serialized remote
// headers.
const BareHeadersName = "X-Bare-Headers"

// maxSplitLength keeps each fragment well under the common 8 KiB
// per-header cap of HTTP servers.
const maxSplitLength = 3072

// SplitBareHeaders splits an oversized x-bare-headers value into
// x-bare-headers-0, x-bare-headers-1, ... fragments. Each fragment is
// prefixed with a semi-colon so middleboxes that trim empty-looking
// values leave it intact.
func SplitBareHeaders(h http.Header) {
	value := h.Get(BareHeadersName)
	if len(value) <= maxSplitLength {
		return
	}

	h.Del(BareHeadersName)
	for n := 0; len(value) > 0; n++ {
		chunk := value
		if len(chunk) > maxSplitLength {
			chunk = chunk[:maxSplitLength]
		}
		value = value[len(chunk):]
		h.Set(fmt.Sprintf("%s-%d", BareHeadersName, n), ";"+chunk)
	}
}

// JoinBareHeaders recombines x-bare-headers-N fragments into a single
// x-bare-headers value. Fragments must begin with a semi-colon.
func JoinBareHeaders(h http.Header) error {
	if h.Get(BareHeadersName+"-0") == "" {
		return nil
	}

	var joined strings.Builder
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s-%d", BareHeadersName, n)
		fragment := h.Get(name)
		if fragment == "" {
			break
		}
		if !strings.HasPrefix(fragment, ";") {
			return bare.ErrInvalidHeader("x-bare-headers", "Value didn't begin with a semi-colon.")
		}
		joined.WriteString(fragment[1:])
		h.Del(name)
	}

	h.Set(BareHeadersName, joined.String())
	return nil
}
