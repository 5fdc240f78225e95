package rectify

import "net/http"

// StripUnderscorePrefixed recursively removes any object key beginning
// with "_" from body, in place. Arrays are walked but never treated as
// key-bearing.
func StripUnderscorePrefixed(body map[string]any) {
	stripUnderscore(body)
}

func stripUnderscore(v any) {
	switch node := v.(type) {
	case map[string]any:
		for k := range node {
			if len(k) > 0 && k[0] == '_' {
				delete(node, k)
				continue
			}
			stripUnderscore(node[k])
		}
	case []any:
		for _, item := range node {
			stripUnderscore(item)
		}
	}
}

// ApplyAlwaysOnHeaders normalizes the outbound header set: strips
// connection-management headers a proxied client should never forward,
// forces identity encoding (the gateway must see the raw upstream body to
// do its own gzip handling), sets the provider credential, and points
// Host at the provider URL. user-agent is left untouched unless override
// is non-empty.
func ApplyAlwaysOnHeaders(h http.Header, credential, apiKeyHeader, hostHeader, userAgentOverride string) {
	h.Del("Content-Length")
	h.Del("Connection")
	h.Set("Accept-Encoding", "identity")
	h.Set("Authorization", "Bearer "+credential)
	if apiKeyHeader != "" {
		h.Set(apiKeyHeader, credential)
	}
	h.Set("Host", hostHeader)
	if userAgentOverride != "" {
		h.Set("User-Agent", userAgentOverride)
	}
}
