// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package fetch

import (
	"fmt"
	"net"
	"net/url"
)

// permittedIP reports whether an address is globally routable unicast.
// Loopback, link-local, multicast, unspecified and private ranges are
// all rejected by the default SSRF policy.
func permittedIP(ip net.IP) bool {
	return ip.IsGlobalUnicast() && !ip.IsPrivate()
}

// defaultFilterRemote rejects requests whose host is a literal
// non-unicast IP. Hostnames pass here and are vetted at resolve time.
func defaultFilterRemote(u *url.URL) error {
	ip := net.ParseIP(u.Hostname())
	if ip == nil {
		return nil
	}
	if !permittedIP(ip) {
		return fmt.Errorf("Forbidden IP %s", ip)
	}
	return nil
}
