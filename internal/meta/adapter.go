// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package meta

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/remote"
)

const (
	// recordTTL is how long a record may bridge the relay and the poll.
	recordTTL = 30 * time.Second
	// reapInterval is the cadence of the expiry sweep.
	reapInterval = time.Second
)

// Record is the version-tagged payload of a meta entry. v1 relays store
// only the remote's response; v2 relays additionally read back the
// connect parameters deposited by ws-new-meta.
type Record struct {
	V              int             `json:"v"`
	Remote         *remote.Remote  `json:"remote,omitempty"`
	SendHeaders    headers.Headers `json:"sendHeaders,omitempty"`
	ForwardHeaders []string        `json:"forwardHeaders,omitempty"`
	Response       *RecordResponse `json:"response,omitempty"`
}

// RecordResponse captures the remote's upgrade handshake for the
// ws-meta poll.
type RecordResponse struct {
	Status     int             `json:"status,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Headers    headers.Headers `json:"headers"`
}

// envelope is the stored JSON shape: the record plus its deadline.
type envelope struct {
	Expires int64  `json:"expires"`
	Value   Record `json:"value"`
}

// Adapter serializes records into a Store and enforces their TTL.
type Adapter struct {
	store Store
	log   *slog.Logger

	now func() time.Time
}

// NewAdapter wraps a Store.
func NewAdapter(store Store, log *slog.Logger) *Adapter {
	return &Adapter{store: store, log: log, now: time.Now}
}

// NewID returns a fresh 16-byte record key in lowercase hex.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Create inserts a record under a fresh id and returns the id.
func (a *Adapter) Create(ctx context.Context, rec Record) (string, error) {
	id := NewID()
	if err := a.Set(ctx, id, rec); err != nil {
		return "", err
	}
	return id, nil
}

// Set stores a record under id with a fresh TTL.
func (a *Adapter) Set(ctx context.Context, id string, rec Record) error {
	data, err := json.Marshal(envelope{
		Expires: a.now().Add(recordTTL).UnixMilli(),
		Value:   rec,
	})
	if err != nil {
		return fmt.Errorf("encoding meta record: %w", err)
	}
	// The backend ttl trails the envelope deadline so the adapter's
	// expiry check stays authoritative.
	return a.store.Set(ctx, id, string(data), recordTTL+reapInterval)
}

// Get returns the record stored under id, or nil if it is absent or
// already expired.
func (a *Adapter) Get(ctx context.Context, id string) (*Record, error) {
	raw, ok, err := a.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding meta record: %w", err)
	}
	if env.Expires < a.now().UnixMilli() {
		_, _ = a.store.Delete(ctx, id)
		return nil, nil
	}
	return &env.Value, nil
}

// Take returns the record stored under id and deletes it. The record is
// consumed exactly once.
func (a *Adapter) Take(ctx context.Context, id string) (*Record, error) {
	rec, err := a.Get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err := a.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// RunReaper sweeps expired records every reapInterval until the context
// is canceled.
func (a *Adapter) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Adapter) sweep(ctx context.Context) {
	keys, err := a.store.Keys(ctx)
	if err != nil {
		a.log.Warn("Listing meta records failed", "error", err)
		return
	}

	now := a.now().UnixMilli()
	for _, key := range keys {
		raw, ok, err := a.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Expires < now {
			if _, err := a.store.Delete(ctx, key); err != nil {
				a.log.Warn("Deleting expired meta record failed", "key", key, "error", err)
			}
		}
	}
}
