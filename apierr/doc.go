// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package apierr renders a forwarding outcome into the wire-stable client
// envelope — {"error":{"type","message"},"status":N} — and best-effort
// parses upstream error bodies into that same shape. It never leaks a
// provider's identity on full exhaustion: a 503 there always reads "All
// providers temporarily unavailable, try again later" regardless of which
// provider produced the last failure.
//
// Grounded on the teacher's WriteError/WriteJSON pair (api/handlers/common.go)
// for the ResponseWriter plumbing, generalized to the forwarding engine's
// own envelope shape instead of the teacher's {success,data,error} one.
package apierr
