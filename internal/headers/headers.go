// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package headers implements the header utilities of the bare protocol:
// the x-bare-headers value model, case-preserving raw header sequences,
// the Sec-WebSocket-Protocol percent codec and the long-header splitter.
package headers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// Value is a single header value or an ordered list of values.
// The distinction is kept so the JSON representation round-trips:
// a client that sent a string gets a string back, an array stays an array.
type Value struct {
	Values []string
	Multi  bool
}

// Single returns a Value holding one string.
func Single(s string) Value {
	return Value{Values: []string{s}}
}

// Multiple returns a Value holding an ordered list of strings.
func Multiple(ss ...string) Value {
	return Value{Values: ss, Multi: true}
}

// Flatten joins array values with ", " per RFC 7230 field combining.
func (v Value) Flatten() string {
	return strings.Join(v.Values, ", ")
}

// MarshalJSON encodes single values as a JSON string and multi values as
// a JSON array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Multi {
		return json.Marshal(v.Values)
	}
	if len(v.Values) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(v.Values[0])
}

// UnmarshalJSON accepts a JSON string or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = Single(single)
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*v = Multiple(values...)
	return nil
}

// Headers maps a header name to its value. Key case is significant: maps
// built from raw sequences carry the original capitalization, maps used
// for lookups carry lower-case keys.
type Headers map[string]Value

// Parse decodes an x-bare-headers JSON object, rejecting any value that
// is neither a string nor an array of strings. headerName is used as the
// error identifier.
func Parse(raw, headerName string) (Headers, error) {
	parsed := gjson.Parse(raw)
	if !gjson.Valid(raw) || !parsed.IsObject() {
		return nil, bare.ErrInvalidHeader(headerName, "Header contained invalid JSON.")
	}

	h := Headers{}
	var parseErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		switch {
		case value.Type == gjson.String:
			h[key.String()] = Single(value.String())
		case value.IsArray():
			var values []string
			for _, entry := range value.Array() {
				if entry.Type != gjson.String {
					parseErr = bare.ErrInvalidHeader(headerName, "Header value must be a String or an Array of Strings.")
					return false
				}
				values = append(values, entry.String())
			}
			h[key.String()] = Multiple(values...)
		default:
			parseErr = bare.ErrInvalidHeader(headerName, "Header value must be a String or an Array of Strings.")
			return false
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return h, nil
}

// Lower returns a copy of h with lower-cased keys.
func (h Headers) Lower() Headers {
	out := make(Headers, len(h))
	for name, value := range h {
		out[strings.ToLower(name)] = value
	}
	return out
}

// FromHTTP converts an [http.Header] into a lower-cased Headers map.
// Multi-valued headers and Set-Cookie become arrays.
func FromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if len(values) > 1 || lower == "set-cookie" {
			out[lower] = Multiple(values...)
		} else if len(values) == 1 {
			out[lower] = Single(values[0])
		}
	}
	return out
}

// Raw is a flat header sequence [name0, value0, name1, value1, ...]
// preserving original case and duplicates.
type Raw []string

// RawFromHeader flattens an [http.Header] into a raw sequence. Keys are
// sorted for determinism; per-key value order is preserved.
func RawFromHeader(h http.Header) Raw {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	raw := make(Raw, 0, len(h)*2)
	for _, name := range names {
		for _, value := range h[name] {
			raw = append(raw, name, value)
		}
	}
	return raw
}

// Names returns the ordered set of distinct header names in the raw
// sequence. The first occurrence of a name wins.
func (r Raw) Names() []string {
	var names []string
	seen := map[string]struct{}{}
	for i := 0; i+1 < len(r); i += 2 {
		if _, ok := seen[r[i]]; ok {
			continue
		}
		seen[r[i]] = struct{}{}
		names = append(names, r[i])
	}
	return names
}

// MapFromRaw rebuilds a Headers map keyed by the original-case names,
// taking each value from the lower-cased map. Names absent from the map
// are skipped. This is how the remote's capitalization survives the trip
// through x-bare-headers.
func MapFromRaw(rawNames []string, lower Headers) Headers {
	out := make(Headers, len(rawNames))
	for _, name := range rawNames {
		if value, ok := lower[strings.ToLower(name)]; ok {
			out[name] = value
		}
	}
	return out
}
