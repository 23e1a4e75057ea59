// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package headers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSON(t *testing.T) {
	testCases := map[string]struct {
		value Value
		want  string
	}{
		"single value is a string": {
			value: Single("text/html"),
			want:  `"text/html"`,
		},
		"multi value is an array": {
			value: Multiple("a=1", "b=2"),
			want:  `["a=1","b=2"]`,
		},
		"empty single value": {
			value: Single(""),
			want:  `""`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			encoded, err := json.Marshal(tc.value)
			require.NoError(err)
			assert.Equal(tc.want, string(encoded))

			var decoded Value
			require.NoError(json.Unmarshal(encoded, &decoded))
			assert.Equal(tc.value, decoded)
		})
	}
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		raw     string
		want    Headers
		wantErr bool
	}{
		"string and array values": {
			raw: `{"Accept":"text/html","Set-Cookie":["a=1","b=2"]}`,
			want: Headers{
				"Accept":     Single("text/html"),
				"Set-Cookie": Multiple("a=1", "b=2"),
			},
		},
		"empty object": {
			raw:  `{}`,
			want: Headers{},
		},
		"not JSON": {
			raw:     `{"Accept"`,
			wantErr: true,
		},
		"not an object": {
			raw:     `["Accept"]`,
			wantErr: true,
		},
		"numeric value": {
			raw:     `{"Content-Length":42}`,
			wantErr: true,
		},
		"array with non-string entry": {
			raw:     `{"Set-Cookie":["a=1",2]}`,
			wantErr: true,
		},
		"null value": {
			raw:     `{"Accept":null}`,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := Parse(tc.raw, "x-bare-headers")
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestFromHTTP(t *testing.T) {
	assert := assert.New(t)

	h := http.Header{
		"Content-Type": {"text/html"},
		"Set-Cookie":   {"a=1"},
		"Vary":         {"Origin", "Accept"},
	}
	got := FromHTTP(h)

	assert.Equal(Single("text/html"), got["content-type"])
	// Set-Cookie is always an array, even with a single value.
	assert.Equal(Multiple("a=1"), got["set-cookie"])
	assert.Equal(Multiple("Origin", "Accept"), got["vary"])
}

func TestRawNames(t *testing.T) {
	assert := assert.New(t)

	raw := Raw{"Set-Cookie", "a=1", "Content-Type", "text/html", "Set-Cookie", "b=2"}
	assert.Equal([]string{"Set-Cookie", "Content-Type"}, raw.Names())
}

func TestMapFromRaw(t *testing.T) {
	assert := assert.New(t)

	h := http.Header{}
	h.Set("X-Foo", "Bar")
	h.Set("Content-Type", "text/html")

	lower := FromHTTP(h)
	mapped := MapFromRaw(RawFromHeader(h).Names(), lower)

	// Original capitalization survives the lower-cased detour.
	assert.Equal(Single("Bar"), mapped["X-Foo"])
	assert.Equal(Single("text/html"), mapped["Content-Type"])
	assert.NotContains(mapped, "x-foo")
}
