package transport

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/agentflow/llmgate/internal/tlsutil"
	"golang.org/x/net/http2"
)

// Key identifies one cached agent.
type Key struct {
	Origin       string // scheme://host[:port]
	ProxyURL     string // "" for none
	HTTP2Enabled bool
}

// agent is one cached client plus the health flag markUnhealthy clears.
type agent struct {
	mu      sync.RWMutex
	client  *http.Client
	healthy bool
}

// Pool caches agents keyed by (endpoint-origin, proxy-config, http2).
// Get and markUnhealthy serialize per cache-key via the entry's own lock,
// matching the breaker registry's no-global-mutex design.
type Pool struct {
	entries sync.Map // Key -> *agent
}

// NewPool builds an empty agent pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns the cached client for key, building one on first use or
// after it was marked unhealthy.
func (p *Pool) Get(key Key) (*http.Client, error) {
	v, _ := p.entries.LoadOrStore(key, &agent{})
	a := v.(*agent)

	a.mu.RLock()
	if a.healthy && a.client != nil {
		c := a.client
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.healthy && a.client != nil {
		return a.client, nil
	}
	client, err := buildClient(key)
	if err != nil {
		return nil, err
	}
	a.client = client
	a.healthy = true
	return client, nil
}

// MarkUnhealthy invalidates key's cached agent so the next Get builds a
// fresh one. Called on an agent-level fault (TLS handshake failure, HTTP/2
// protocol error) — never on an ordinary upstream HTTP error status.
func (p *Pool) MarkUnhealthy(key Key, reason string) {
	v, ok := p.entries.Load(key)
	if !ok {
		return
	}
	a := v.(*agent)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = false
	a.client = nil
}

// Fallback returns key with HTTP2Enabled forced false, for the
// forwarder's transparent HTTP/2-to-HTTP/1 retry on a protocol error.
func (k Key) Fallback() Key {
	k.HTTP2Enabled = false
	return k
}

func buildClient(key Key) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsutil.DefaultTLSConfig(),
	}

	if key.ProxyURL != "" {
		proxyURL, err := url.Parse(key.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if key.HTTP2Enabled {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, err
		}
	} else {
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &http.Client{Transport: transport}, nil
}
