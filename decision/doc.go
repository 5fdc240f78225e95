// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package decision keeps the append-only audit trail of one request's
// forwarding attempts: which provider and endpoint were tried, why each
// attempt ended the way it did, and the breaker snapshot observed at that
// moment. Entries are appended in strict chronological order from a
// single cooperative flow (the spec's "decision chain"), so no
// synchronization is needed beyond the owning request's own goroutine.
package decision
