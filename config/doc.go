// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config manages the proxy's static configuration: server listener
settings, logging, the rate-limit store connection, the persistence store
connection, forwarding-engine knobs, and the tenant model (Provider,
Endpoint, Key, User). Configuration merges in priority order:
defaults -> YAML file -> environment variables.

# Core types

  - Config: the top-level aggregate — Server, Log, Redis, Database,
    Forwarder, plus the Provider/Endpoint/Key/User slices that make up
    the tenant and routing model.
  - Loader: builder-style loader chaining a YAML path, an environment
    variable prefix, and custom validators.
  - HotReloadManager: watches for and applies changes to the ambient
    fields (log level, forwarder timeouts, server timeouts) that are
    safe to change without a restart; Provider/Endpoint/Key/User records
    are expected to be reloaded wholesale rather than field-by-field.
  - FileWatcher: polling file watcher that triggers a reload callback.

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("LLMGATE").
		Load()
*/
package config
