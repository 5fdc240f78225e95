// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package forward is the request-forwarding engine: the outer loop over
// providers and the inner loop over attempts against one provider's
// endpoints, wired to breaker, classify, ratelimit, rectify, routing,
// transport, and decision. It owns no HTTP-framing concerns of its own —
// callers hand it a normalized Request and get back either a Result or
// one of this package's typed errors, which a handler maps onto the
// client-facing envelope (package apierr).
//
// The outer/inner loop is grounded on the teacher's ResilientProvider
// retry-with-failover design (llm/resilient_provider.go), generalized
// from "retry the same provider" to "retry an endpoint, then fail over
// across providers" per the two-level retry model this engine
// implements.
package forward
