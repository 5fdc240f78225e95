package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/agentflow/llmgate/apierr"
	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/forward"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxInboundBodyBytes bounds the client request body the proxy will
// buffer before handing it to the forwarder.
const maxInboundBodyBytes = 10 << 20

// dialectByPath maps the documented standard inbound paths to their
// provider-type dialect family. Any other path is treated as vendor
// passthrough (the MCP case).
var dialectByPath = map[string]string{
	"/v1/messages":              "anthropic",
	"/v1/messages/count_tokens": "anthropic",
	"/v1/responses":             "codex",
	"/v1/chat/completions":      "openai_compat",
	"/v1/models":                "anthropic",
}

// ProxyHandler is the forwarding entrypoint: it resolves the caller's
// key, determines the dialect, and drives a forward.Engine to
// completion, rendering the outcome back onto the wire.
type ProxyHandler struct {
	engine *forward.Engine
	keys   map[string]config.Key
	users  map[string]config.User
	logger *zap.Logger
}

// NewProxyHandler indexes keys/users by ID for O(1) credential lookup.
func NewProxyHandler(engine *forward.Engine, keys []config.Key, users []config.User, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyIndex := make(map[string]config.Key, len(keys))
	for _, k := range keys {
		keyIndex[k.ID] = k
	}
	userIndex := make(map[string]config.User, len(users))
	for _, u := range users {
		userIndex[u.ID] = u
	}
	return &ProxyHandler{engine: engine, keys: keyIndex, users: userIndex, logger: logger}
}

// ServeHTTP implements the single forwarding entrypoint registered for
// the standard paths and the passthrough catch-all.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, user, ok := h.authenticate(r)
	if !ok {
		apierr.WriteEnvelope(w, apierr.New(apierr.KindClientInputError, "invalid or missing credential", http.StatusUnauthorized))
		return
	}

	body, err := readJSONBody(r)
	if err != nil {
		apierr.WriteEnvelope(w, apierr.New(apierr.KindClientInputError, "invalid JSON body", http.StatusBadRequest))
		return
	}

	providerType, passthrough := dialectFor(r.URL.Path)
	if override := r.Header.Get("X-Provider-Type"); passthrough && override != "" {
		providerType = override
	}

	model, _ := body["model"].(string)
	streaming, _ := body["stream"].(bool)

	req := forward.Request{
		SessionID:      sessionID(r),
		ProviderType:   providerType,
		Model:          model,
		ClientAgent:    clientAgent(r),
		Method:         http.MethodPost,
		Path:           r.URL.Path,
		Headers:        r.Header.Clone(),
		Body:           body,
		Key:            key,
		User:           user,
		MCPPassthrough: passthrough,
		CountTokens:    strings.HasSuffix(r.URL.Path, "/count_tokens"),
		Streaming:      streaming,
	}

	result, err := h.engine.Forward(r.Context(), req)
	if err != nil {
		h.renderError(w, err)
		return
	}

	for name, values := range result.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.StatusCode)

	if result.Streaming {
		h.copyStream(w, result)
		return
	}
	_, _ = w.Write(result.Body)
}

// copyStream drains a deferred-finalization streaming result onto w,
// flushing each chunk as it arrives, then reports the drain outcome back
// to the forwarder so it can record success/failure and persist the
// outcome — the two-phase settlement C10 requires.
func (h *ProxyHandler) copyStream(w http.ResponseWriter, result *forward.Result) {
	defer result.Stream.Close()
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	var copyErr error
	for {
		n, readErr := result.Stream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				copyErr = writeErr
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				copyErr = readErr
			}
			break
		}
	}
	result.Finalize(copyErr)
}

func (h *ProxyHandler) authenticate(r *http.Request) (config.Key, config.User, bool) {
	credential := bearerCredential(r)
	if credential == "" {
		credential = r.Header.Get("X-Api-Key")
	}
	if credential == "" {
		return config.Key{}, config.User{}, false
	}
	key, ok := h.keys[credential]
	if !ok {
		return config.Key{}, config.User{}, false
	}
	user := h.users[key.UserID]
	return key, user, true
}

func (h *ProxyHandler) renderError(w http.ResponseWriter, err error) {
	var rateLimited *forward.RateLimitError
	var clientAbort *forward.ClientAbortError
	var nonRetryable *forward.NonRetryableClientError
	var exhausted *forward.AllProvidersUnavailableError

	switch {
	case errors.As(err, &rateLimited):
		apierr.WriteRateLimit(w, rateLimited.Exceeded)
	case errors.As(err, &clientAbort):
		apierr.WriteClientAbort(w)
	case errors.As(err, &nonRetryable):
		if nonRetryable.StatusCode == http.StatusNotFound {
			apierr.WriteResourceNotFound(w, nonRetryable.Body)
		} else {
			apierr.WriteClientInputError(w, nonRetryable.StatusCode, nonRetryable.Body)
		}
	case errors.As(err, &exhausted):
		apierr.WriteAllProvidersUnavailable(w)
	default:
		h.logger.Error("forward failed", zap.Error(err))
		apierr.WriteEnvelope(w, apierr.New(apierr.KindProviderError, "internal error", http.StatusInternalServerError))
	}
}

func dialectFor(path string) (providerType string, passthrough bool) {
	if dt, ok := dialectByPath[path]; ok {
		return dt, false
	}
	return "anthropic", true
}

func bearerCredential(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func clientAgent(r *http.Request) string {
	if ua := r.Header.Get("X-Client-Agent"); ua != "" {
		return ua
	}
	return r.Header.Get("User-Agent")
}

func sessionID(r *http.Request) string {
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		return sid
	}
	return uuid.NewString()
}

func readJSONBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return map[string]any{}, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}
