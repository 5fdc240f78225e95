// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package routing picks which Provider the forwarder tries next (the
// resolver) and in what order that provider's Endpoints are attempted
// (the selector).
//
// The resolver filters providers by capability, exclusion set, breaker
// state, and client-agent/model allow-lists, then chooses weighted-random
// within the highest non-empty priority band — generalized from the
// teacher's weighted scored-candidate selection, simplified to the
// ordering rule the forwarding engine actually needs (priority band
// first, weight second) rather than a multi-factor cost/latency score.
//
// The selector orders a provider's enabled endpoints by last observed
// probe latency, unprobed endpoints last, and truncates the list to the
// attempt budget so the forwarder never visits more endpoints than it can
// retry.
package routing
