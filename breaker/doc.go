// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package breaker implements the per-provider, per-endpoint, and
// per-(vendor, provider-type) circuit breakers that protect the forwarder
// from hammering an unhealthy upstream.
//
// Unlike a call-wrapping breaker, the forwarder needs to read breaker
// state before choosing a provider/endpoint and to record outcomes itself
// (with probe requests reading but never writing failure counts), so this
// package exposes IsOpen/RecordSuccess/RecordFailure directly instead of a
// Call(fn) wrapper. State lives in a process-wide registry keyed by
// identity with one lock per entry — never a single global mutex.
package breaker
