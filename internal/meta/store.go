// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package meta implements the short-lived side channel that bridges a
// WebSocket relay to a later ws-meta poll. Records live in a pluggable
// string key/value store; a JSON adapter on top handles serialization,
// expiry and the background reaper.
package meta

import (
	"context"
	"time"
)

// Store is the pluggable key/value backend. Values are opaque strings;
// authoritative expiry is handled by the adapter layer above, and the
// ttl handed to Set is a backstop backends may enforce natively so
// records cannot outlive a crashed reaper. Implementations must be
// safe for concurrent use and linearizable per key.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}
