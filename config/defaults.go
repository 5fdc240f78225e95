// =============================================================================
// Default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns a Config with sane production defaults and no
// configured providers/keys/users — those must come from the YAML file.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Forwarder: DefaultForwarderConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultTelemetryConfig returns telemetry export disabled by default —
// an operator opts in by pointing OTLPEndpoint at a collector.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "llmgate",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   0.1,
	}
}

// DefaultServerConfig returns default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: true,
	}
}

// DefaultRedisConfig returns default rate-limit store settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns default persistence store settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "llmgate",
		Name:            "llmgate",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultForwarderConfig returns default forwarding-engine settings.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		MaxRetryAttemptsDefault:      2,
		EnableBreakerOnNetworkErrors: false,
		FetchHeadersTimeout:          30 * time.Second,
		FetchBodyTimeout:             5 * time.Minute,
		HTTP2Enabled:                 true,
		MaxProviderSwitches:          20,
	}
}

// DefaultProviderBreakerConfig returns the breaker defaults applied to a
// Provider record that doesn't specify its own tuning.
func DefaultProviderBreakerConfig() (failureThreshold int, openDuration time.Duration, halfOpenQuota int) {
	return 5, 60 * time.Second, 3
}
