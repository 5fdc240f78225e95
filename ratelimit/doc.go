// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package ratelimit runs the ordered battery of spend and concurrency
// checks a request must clear before it is forwarded. Every check reads
// and writes through a single external Store so that the guard is correct
// across multiple proxy instances sharing one Redis keyspace — counters
// are never kept in process memory, unlike a single-instance token-bucket.
//
// Checks run in a fixed order and stop at the first failure (the spec's
// ordering determines which limit is reported when several are breached
// at once). Concurrency reservations (distinct-client-agent count,
// concurrent-session count) are acquired atomically via Lua scripts and
// must be released by the caller when the request finishes; USD-window
// checks only read and compare at admission, are incremented afterwards
// through RecordUsage, and are never rolled back.
package ratelimit
