// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package transport caches one *http.Client per
// (endpoint-origin, proxy-config, http2-enabled) tuple so repeated
// requests to the same upstream reuse connections, and lets the
// forwarder invalidate an entry that just faulted (a TLS handshake
// failure, an HTTP/2 protocol error) so the next lookup builds a fresh
// client instead of reusing a poisoned one.
//
// Shaped like the teacher's generic internal/pool.Pool[T] (a keyed cache
// over sync.Pool, Get/Put, hit-rate stats) but keyed and invalidated
// rather than pooled-and-reset: an *http.Client is long-lived and
// identified by its connection target, not a short-lived value handed
// back after use, so the registry here follows breaker.Registry's
// sync.Map-of-pointers shape instead.
package transport
