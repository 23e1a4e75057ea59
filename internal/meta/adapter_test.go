// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package meta

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/remote"
)

func TestNewID(t *testing.T) {
	assert := assert.New(t)

	id := NewID()
	assert.Len(id, 32)
	assert.NotEqual(id, NewID())
}

func TestAdapterRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	a := NewAdapter(NewMemoryStore(), slog.Default())
	rec := Record{
		V:              2,
		Remote:         &remote.Remote{Protocol: "wss:", Host: "example.com", Port: 443, Path: "/"},
		SendHeaders:    headers.Headers{"User-Agent": headers.Single("test")},
		ForwardHeaders: []string{"accept-language"},
	}

	id, err := a.Create(ctx, rec)
	require.NoError(err)

	got, err := a.Get(ctx, id)
	require.NoError(err)
	require.NotNil(got)
	assert.Equal(rec, *got)

	// Unknown ids are absent, not an error.
	got, err = a.Get(ctx, "missing")
	require.NoError(err)
	assert.Nil(got)
}

func TestAdapterTake(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	a := NewAdapter(NewMemoryStore(), slog.Default())
	id, err := a.Create(ctx, Record{V: 1, Response: &RecordResponse{Headers: headers.Headers{}}})
	require.NoError(err)

	got, err := a.Take(ctx, id)
	require.NoError(err)
	require.NotNil(got)
	assert.Equal(1, got.V)

	// The record is consumed exactly once.
	got, err = a.Take(ctx, id)
	require.NoError(err)
	assert.Nil(got)
}

func TestAdapterExpiry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	now := time.Now()
	store := NewMemoryStore()
	a := NewAdapter(store, slog.Default())
	a.now = func() time.Time { return now }

	id, err := a.Create(ctx, Record{V: 1})
	require.NoError(err)

	now = now.Add(recordTTL + time.Second)
	got, err := a.Get(ctx, id)
	require.NoError(err)
	assert.Nil(got)

	// The expired read also dropped the stored entry.
	ok, err := store.Has(ctx, id)
	require.NoError(err)
	assert.False(ok)
}

// ttlRecordingStore captures the backstop ttl handed to the backend.
type ttlRecordingStore struct {
	*MemoryStore
	lastTTL time.Duration
}

func (s *ttlRecordingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.lastTTL = ttl
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func TestAdapterSetsBackendTTL(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	store := &ttlRecordingStore{MemoryStore: NewMemoryStore()}
	a := NewAdapter(store, slog.Default())

	_, err := a.Create(context.Background(), Record{V: 1})
	require.NoError(err)

	// The backend expiration must cover the record's full lifetime so
	// it only ever trails the adapter's own expiry check.
	assert.GreaterOrEqual(store.lastTTL, recordTTL)
}

func TestAdapterSweep(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	now := time.Now()
	store := NewMemoryStore()
	a := NewAdapter(store, slog.Default())
	a.now = func() time.Time { return now }

	stale, err := a.Create(ctx, Record{V: 1})
	require.NoError(err)

	now = now.Add(recordTTL + time.Second)
	fresh, err := a.Create(ctx, Record{V: 2})
	require.NoError(err)

	a.sweep(ctx)

	ok, err := store.Has(ctx, stale)
	require.NoError(err)
	assert.False(ok)
	ok, err = store.Has(ctx, fresh)
	require.NoError(err)
	assert.True(ok)
}
