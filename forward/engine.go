package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentflow/llmgate/breaker"
	"github.com/agentflow/llmgate/classify"
	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/decision"
	"github.com/agentflow/llmgate/persistence"
	"github.com/agentflow/llmgate/ratelimit"
	"github.com/agentflow/llmgate/rectify"
	"github.com/agentflow/llmgate/routing"
	"github.com/agentflow/llmgate/transport"
	"go.uber.org/zap"
)

// minAttempts/maxAttemptsCeiling bound a provider's configured retry
// budget to the documented [1, 8] range.
const (
	minAttempts        = 1
	maxAttemptsCeiling = 8
)

// retryDelay is the fixed inter-attempt pause within a single provider's
// inner loop. There is no exponential backoff here — the breaker is the
// backpressure mechanism across provider switches, not this delay.
const retryDelay = 100 * time.Millisecond

// Engine is the forwarding state machine: one outer loop over providers,
// one inner loop over a provider's endpoints.
type Engine struct {
	cfg       config.ForwarderConfig
	providers []config.Provider
	endpoints []config.Endpoint

	resolver  *routing.Resolver
	breakers  *breaker.Guard
	rateGuard *ratelimit.Guard
	transport *Transport
	classify  *classify.Classifier
	persist   persistence.Writer
	logger    *zap.Logger

	// retryDelay overrides the fixed inter-attempt pause; zero means use
	// the package default. Tests set this to make the inner loop fast.
	retryDelay time.Duration
}

// New builds an Engine over the given tenant model and wired components.
func New(
	cfg config.ForwarderConfig,
	providers []config.Provider,
	endpoints []config.Endpoint,
	resolver *routing.Resolver,
	breakers *breaker.Guard,
	rateGuard *ratelimit.Guard,
	pool *transport.Pool,
	classifier *classify.Classifier,
	persist persistence.Writer,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxProviderSwitches <= 0 {
		cfg.MaxProviderSwitches = 20
	}
	return &Engine{
		cfg:       cfg,
		providers: providers,
		endpoints: endpoints,
		resolver:  resolver,
		breakers:  breakers,
		rateGuard: rateGuard,
		transport: NewTransport(pool),
		classify:  classifier,
		persist:   persist,
		logger:    logger,
	}
}

// Forward admits req against the rate-limit guard, then runs the
// provider/endpoint retry loop to completion.
func (e *Engine) Forward(ctx context.Context, req Request) (*Result, error) {
	if req.CountTokens {
		// count_tokens is a diagnostic path: on any error, throw
		// immediately without circuit-breaker updates or provider
		// switching — never counts against the guard either.
		req.Probe = true
	}

	var reservation *ratelimit.Reservation
	if !req.Probe {
		res, exceeded, err := e.rateGuard.Admit(ctx, ratelimit.Request{
			Key: req.Key, User: req.User, ClientAgent: req.ClientAgent, Now: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		if exceeded != nil {
			return nil, &RateLimitError{Exceeded: exceeded}
		}
		reservation = res
		defer reservation.Release(context.Background())
	}

	result, err := e.run(ctx, req)
	return result, err
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	chain := decision.New(req.SessionID)
	exclude := map[string]bool{}
	var providerChain []string
	var settings []rectify.Entry

	maxSwitches := e.cfg.MaxProviderSwitches
	if req.CountTokens {
		maxSwitches = 1
	}

	for switchCount := 1; switchCount <= maxSwitches; switchCount++ {
		provider, err := e.resolver.Resolve(e.providers, routing.Request{
			ProviderType: req.ProviderType,
			Exclude:      exclude,
			ClientAgent:  req.ClientAgent,
			Model:        req.Model,
		})
		if err != nil {
			break
		}
		providerChain = append(providerChain, provider.ID)

		maxAttempts := clampAttempts(provider.MaxRetryAttempts, e.cfg.MaxRetryAttemptsDefault)
		if req.CountTokens {
			maxAttempts = 1
		}

		eps := routing.SelectEndpoints(e.endpoints, provider.VendorID, provider.ProviderType, maxAttempts)
		if len(eps) == 0 {
			if provider.StrictEndpointsOnly {
				chain.Append(decision.Entry{ProviderID: provider.ID, Reason: decision.StrictBlockedLegacyFallback})
			}
			exclude[provider.ID] = true
			continue
		}

		vendorKey := breaker.VendorKey(provider.VendorID, provider.ProviderType)
		if !req.MCPPassthrough && e.breakers.Vendor.IsOpen(vendorKey) {
			exclude[provider.ID] = true
			continue
		}

		result, settingsOut, exhausted := e.attemptProvider(ctx, req, *provider, eps, maxAttempts, chain)
		settings = append(settings, settingsOut...)
		if result != nil {
			result.ProviderChain = providerChain
			if result.Streaming {
				// Persistence and the chain's terminal entry wait for
				// the caller to drain the stream and call Finalize.
				innerFinalize := result.Finalize
				result.Finalize = func(streamErr error) {
					innerFinalize(streamErr)
					if !req.Probe {
						e.persistOutcome(req, providerChain, settings, time.Since(start), result.StatusCode, "")
					}
				}
				return result, nil
			}
			if !req.Probe {
				e.persistOutcome(req, providerChain, settings, time.Since(start), result.StatusCode, "")
			}
			return result, nil
		}
		if exhausted != nil {
			return nil, exhausted
		}
		exclude[provider.ID] = true
	}

	terminal, _ := chain.Terminal()
	if !req.Probe {
		e.persistOutcome(req, providerChain, settings, time.Since(start), 503, terminal.ErrorMessage)
	}
	return nil, &AllProvidersUnavailableError{}
}

// attemptProvider runs the inner loop for one provider. It returns
// (result, settings, nil) on success, (nil, settings, err) if an
// immediately-escaping error occurred, or (nil, settings, nil) if the
// provider's attempt budget was exhausted and the outer loop should move
// on.
func (e *Engine) attemptProvider(
	ctx context.Context,
	req Request,
	provider config.Provider,
	endpoints []config.Endpoint,
	maxAttempts int,
	chain *decision.Chain,
) (*Result, []rectify.Entry, error) {
	baseBody, baseHeaders, settings := rectifyForProvider(req, provider)

	outcome := breaker.NewEndpointOutcome()
	currentEndpointIndex := 0
	thinkingRetried := false
	thinkingBudgetRetried := false

	for attemptCount := 1; attemptCount <= maxAttempts; attemptCount++ {
		idx := currentEndpointIndex
		if idx >= len(endpoints) {
			idx = len(endpoints) - 1
		}
		endpoint := endpoints[idx]

		body := cloneBody(baseBody)
		headers := headersForAttempt(baseHeaders, provider, endpoint)

		out := e.doAttempt(ctx, req, provider, endpoint, body, headers)

		if out.Streaming {
			return e.deferStreamingSuccess(req, provider, endpoint, out, attemptCount, chain, settings), settings, nil
		}

		if out.StatusCode >= 200 && out.StatusCode < 300 && !isEmptyResponse(out) {
			reason := decision.RequestSuccess
			if attemptCount > 1 || len(chain.Entries()) > 0 {
				reason = decision.RetrySuccess
			}
			chain.Append(decision.Entry{
				ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: reason,
				AttemptNumber: attemptCount, StatusCode: out.StatusCode,
			})
			if !req.Probe {
				e.breakers.Provider.RecordSuccess(provider.ID)
				e.breakers.Endpoint.RecordSuccess(endpoint.ID)
				if cost := estimateCostUSD(provider, out.Body); cost > 0 {
					e.rateGuard.RecordUsage(context.Background(), ratelimit.Request{Key: req.Key, User: req.User}, cost)
				}
			}
			return &Result{
				StatusCode: out.StatusCode, Headers: out.Headers, Body: out.Body, Chain: chain,
				SpecialSettings: settings,
			}, settings, nil
		}

		in := classify.Input{
			ErrName: out.ErrName, Message: firstNonEmpty(out.ErrMessage, string(out.Body)),
			HTTPStatus: statusFor(out), EmptyResponse: isEmptyResponse(out),
		}
		category, rule := e.classify.Classify(in)

		switch category {
		case classify.ClientAbort:
			chain.Append(decision.Entry{ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.SystemErrorReason, AttemptNumber: attemptCount, ErrorMessage: "Client aborted"})
			return nil, settings, &ClientAbortError{}

		case classify.NonRetryableClient:
			if rule != nil && rule.ID == "thinking_block_format" && !thinkingRetried {
				thinkingRetried = true
				settings = append(settings, applyThinkingSignatureRetry(baseBody))
				maxAttempts++ // rectifier-retry budget bump: doesn't cost the provider an attempt
				continue
			}
			if rule != nil && rule.ID == "thinking_budget_too_small" && !thinkingBudgetRetried {
				thinkingBudgetRetried = true
				settings = append(settings, applyThinkingBudgetRetry(baseBody))
				maxAttempts++ // rectifier-retry budget bump: doesn't cost the provider an attempt
				continue
			}
			chain.Append(decision.Entry{ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.ClientErrorNonRetryable, AttemptNumber: attemptCount, StatusCode: out.StatusCode, ErrorMessage: out.ErrMessage})
			return nil, settings, &NonRetryableClientError{StatusCode: out.StatusCode, Body: out.Body}

		case classify.ResourceNotFound:
			chain.Append(decision.Entry{ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.RetryFailed, AttemptNumber: attemptCount, StatusCode: out.StatusCode})
			if attemptCount >= maxAttempts {
				return nil, settings, nil
			}
			e.pause(ctx)

		case classify.ProviderError:
			outcome.Record(out.TimedOut)
			if !req.Probe && out.TimedOut {
				// Endpoint breaker has a smaller budget and only tracks
				// system-error/timeout outcomes, not every 4xx/5xx.
				e.breakers.Endpoint.RecordFailure(endpoint.ID)
			}
			chain.Append(decision.Entry{ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.RetryFailed, AttemptNumber: attemptCount, StatusCode: out.StatusCode, ErrorMessage: out.ErrMessage})
			if attemptCount >= maxAttempts {
				if !req.Probe {
					e.breakers.Provider.RecordFailure(provider.ID)
					e.breakers.TripVendorIfAllTimedOut(provider.VendorID, provider.ProviderType, outcome)
				}
				return nil, settings, nil
			}
			e.pause(ctx)

		default: // classify.SystemError
			outcome.Record(false)
			if !req.Probe {
				e.breakers.Endpoint.RecordFailure(endpoint.ID)
			}
			chain.Append(decision.Entry{ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.RetryFailed, AttemptNumber: attemptCount, ErrorMessage: out.ErrMessage})
			if attemptCount >= maxAttempts {
				if !req.Probe && e.cfg.EnableBreakerOnNetworkErrors {
					e.breakers.Provider.RecordFailure(provider.ID)
				}
				return nil, settings, nil
			}
			currentEndpointIndex++
			e.pause(ctx)
		}
	}
	return nil, settings, nil
}

func (e *Engine) doAttempt(ctx context.Context, req Request, provider config.Provider, endpoint config.Endpoint, body map[string]any, headers http.Header) attemptOutcome {
	key, err := endpointKey(endpoint.URL, provider.ProxyURL, provider.HTTP2Enabled)
	if err != nil {
		return attemptOutcome{ErrName: "SystemError", ErrMessage: err.Error()}
	}

	bodyBytes, err := encodeBody(body)
	if err != nil {
		return attemptOutcome{ErrName: "SystemError", ErrMessage: err.Error()}
	}

	ob := outbound{
		Method:  firstNonEmpty(req.Method, "POST"),
		URL:     endpoint.URL + req.Path,
		Headers: headers,
		Body:    bodyBytes,
	}

	// Streaming requests bound only the wait for response headers here;
	// the body phase is governed by the idle-gap timeout applied to the
	// returned stream, not by ctx, so a long but actively-flowing SSE
	// response is never truncated by a fixed total-elapsed deadline.
	if req.Streaming {
		firstByte := time.Duration(provider.FirstByteStreamingMs) * time.Millisecond
		if firstByte <= 0 {
			firstByte = e.cfg.FetchHeadersTimeout
		}
		idle := time.Duration(provider.StreamingIdleMs) * time.Millisecond
		st := streamTimeouts{streaming: true, firstByte: firstByte, idle: idle}
		return e.transport.Do(ctx, ob, key, ctx, st)
	}

	timeout := time.Duration(provider.TotalNonStreamingMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.cfg.FetchBodyTimeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.transport.Do(attemptCtx, ob, key, ctx, streamTimeouts{})
}

// deferStreamingSuccess builds the deferred-finalization Result for an
// SSE attempt: neither the decision chain's terminal entry nor either
// breaker's recordSuccess happens until the caller drains the stream and
// invokes Finalize.
func (e *Engine) deferStreamingSuccess(req Request, provider config.Provider, endpoint config.Endpoint, out attemptOutcome, attemptCount int, chain *decision.Chain, settings []rectify.Entry) *Result {
	reason := decision.RequestSuccess
	if attemptCount > 1 || len(chain.Entries()) > 0 {
		reason = decision.RetrySuccess
	}
	deferred := NewDeferredFinalization(e.breakers.Provider, e.breakers.Endpoint, provider.ID, endpoint.ID)
	sniffer := newSSETerminalErrorSniffer(out.BodyStream)

	finalize := func(streamErr error) {
		if streamErr == nil && !sniffer.SawTerminalError() {
			if !req.Probe {
				deferred.Commit()
			} else {
				deferred.Discard()
			}
			chain.Append(decision.Entry{
				ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: reason,
				AttemptNumber: attemptCount, StatusCode: out.StatusCode,
			})
			return
		}
		deferred.Discard()
		msg := "stream ended with a terminal error event"
		if streamErr != nil {
			msg = streamErr.Error()
		}
		if !req.Probe {
			e.breakers.Provider.RecordFailure(provider.ID)
			e.breakers.Endpoint.RecordFailure(endpoint.ID)
		}
		chain.Append(decision.Entry{
			ProviderID: provider.ID, EndpointID: endpoint.ID, Reason: decision.SystemErrorReason,
			AttemptNumber: attemptCount, ErrorMessage: msg,
		})
	}

	return &Result{
		StatusCode: out.StatusCode, Headers: out.Headers, Chain: chain,
		SpecialSettings: settings, Streaming: true, Stream: sniffer, Finalize: finalize,
	}
}

func (e *Engine) persistOutcome(req Request, providerChain []string, settings []rectify.Entry, duration time.Duration, status int, errorMessage string) {
	if e.persist == nil {
		return
	}
	if errorMessage == "" && status >= 500 {
		errorMessage = "all providers unavailable"
	}
	e.persist.Write(persistence.RequestRecord{
		SessionID:       req.SessionID,
		KeyID:           req.Key.ID,
		UserID:          req.User.ID,
		Model:           req.Model,
		Status:          status,
		DurationMs:      duration.Milliseconds(),
		ErrorMessage:    errorMessage,
		ProviderChain:   persistence.EncodeProviderChain(providerChain),
		SpecialSettings: persistence.EncodeSpecialSettings(settings),
	})
}

func clampAttempts(providerMax, fallbackDefault int) int {
	n := providerMax
	if n <= 0 {
		n = fallbackDefault
	}
	if n < minAttempts {
		n = minAttempts
	}
	if n > maxAttemptsCeiling {
		n = maxAttemptsCeiling
	}
	return n
}

// pause blocks for the inner loop's fixed retry delay, returning early if
// ctx is cancelled first.
func (e *Engine) pause(ctx context.Context) {
	d := e.retryDelay
	if d <= 0 {
		d = retryDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func statusFor(out attemptOutcome) int {
	if out.TimedOut {
		return 524
	}
	return out.StatusCode
}

func isEmptyResponse(out attemptOutcome) bool {
	if out.StatusCode < 200 || out.StatusCode >= 300 {
		return false
	}
	return len(out.Body) == 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func encodeBody(body map[string]any) ([]byte, error) {
	return json.Marshal(body)
}
