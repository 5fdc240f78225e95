// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package classify maps a forwarding error to one of five dispositions —
// client-abort, non-retryable-client, resource-not-found, provider-error,
// system-error — and decides what each disposition means for retries and
// breaker accounting.
//
// The live rule registry (non-retryable-client patterns) is queried through
// a single thread-safe path; there is deliberately no separate synchronous
// lookup, so a rule seeded at startup is visible to every caller without a
// cold-start race (see DESIGN.md, Open Question OQ-1).
package classify
