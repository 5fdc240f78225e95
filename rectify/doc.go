// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package rectify prepares one outbound request body and header set
// before the forwarder sends it: always-on hygiene (stripping
// underscore-prefixed keys, normalizing transport headers) plus a set of
// conditional, audited body rewrites (cache-TTL tagging, the 1M-context
// beta flag, metadata user-id injection, thinking-block repair,
// provider-level overrides).
//
// Generalized from the teacher's RewriterChain (llm/middleware) — a
// request there passes through an ordered list of named rewriters, each
// free to fail the chain. Rectify keeps that shape but works against a
// generic JSON body (map[string]any) rather than one fixed request
// struct, since the gateway forwards several wire dialects, and it
// records what changed as an audit trail instead of just transforming
// silently.
package rectify
