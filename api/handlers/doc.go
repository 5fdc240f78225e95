// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the proxy's HTTP surface: the forwarding
entrypoint (ProxyHandler) that accepts the documented inbound paths plus
vendor passthrough, and the health-check endpoints, both built on the
shared JSON envelope and response-writer helpers in common.go.

# Core types

  - ProxyHandler   — resolves the inbound Key/provider-type, builds a
    forward.Request, calls the forwarding engine, and renders the
    outcome (success body, streaming passthrough, or an apierr envelope)
  - HealthHandler  — liveness/readiness checks (/health, /healthz, /ready)
  - Response / ErrorInfo / ResponseWriter — response envelope and
    status-capturing writer shared by both handlers

# Responsibilities

  - Credential resolution: maps the client-presented key against the
    configured Key/User records; unknown credentials never reach the
    forwarder.
  - Provider-type dispatch: derives the dialect family from the inbound
    path (or an explicit header, for passthrough paths).
  - Response rendering: success bodies are streamed back verbatim;
    forwarding errors are type-switched onto the apierr package's
    taxonomy-specific writers.
*/
package handlers
