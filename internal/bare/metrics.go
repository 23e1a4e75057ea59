// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package bare

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bare_requests_total",
		Help: "Tunnel requests by route.",
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bare_errors_total",
		Help: "Error responses by bare error code.",
	}, []string{"code"})

	openRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bare_open_websocket_relays",
		Help: "WebSocket relays currently held open.",
	})
)

// RelayOpened records a WebSocket relay entering its piping phase.
func RelayOpened() { openRelays.Inc() }

// RelayClosed records a WebSocket relay ending.
func RelayClosed() { openRelays.Dec() }
