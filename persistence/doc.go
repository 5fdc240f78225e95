// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package persistence writes forwarding outcomes to durable storage once
// a request has finished: the error message (if any), final status,
// duration, the chain of providers tried, which special body-rewrite
// settings fired, and a snapshot of the request/response headers worth
// keeping for later debugging. Writes never block the request path —
// every write is a fire-and-forget goroutine over a point-in-time
// snapshot, with its own timeout and panic recovery, grounded on the
// teacher's APIKeyPool.RecordSuccess/RecordFailure pattern
// (llm/apikey_pool.go).
package persistence
