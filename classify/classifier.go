package classify

import "strings"

// Input is the evidence the classifier works from. Forwarder code builds
// this from whatever error value (transport error, upstream status line,
// synthetic timeout) came back from a single attempt.
type Input struct {
	// ErrName is the low-level error name, e.g. "AbortError".
	ErrName string
	// Message is the error or upstream body message.
	Message string
	// HTTPStatus is the upstream status code, or 0 if none was received
	// (transport-level failure). 524 is the synthetic timeout status.
	HTTPStatus int
	// EmptyResponse marks a 200 response promoted to provider-error by
	// the streaming finalizer's empty-body check.
	EmptyResponse bool
}

var clientAbortMessages = []string{
	"this operation was aborted",
	"the user aborted a request",
}

func isClientAbort(in Input) bool {
	if in.ErrName == "AbortError" || in.ErrName == "ResponseAborted" {
		return true
	}
	if in.HTTPStatus == 499 {
		return true
	}
	msg := strings.ToLower(in.Message)
	if strings.Contains(msg, "aborted") {
		return true
	}
	for _, m := range clientAbortMessages {
		if msg == m {
			return true
		}
	}
	return false
}

// Classifier assigns a Category to an Input, consulting the live
// non-retryable-client rule registry.
type Classifier struct {
	rules *RuleRegistry
}

// New builds a Classifier over the given rule registry.
func New(rules *RuleRegistry) *Classifier {
	if rules == nil {
		rules = NewRuleRegistry()
	}
	return &Classifier{rules: rules}
}

// Classify assigns the category in priority order: client-abort,
// non-retryable-client, resource-not-found, provider-error, system-error.
// There is exactly one classification path — no separate synchronous
// shortcut — so a rule registered moments ago is always visible.
func (c *Classifier) Classify(in Input) (Category, *Rule) {
	if isClientAbort(in) {
		return ClientAbort, nil
	}
	if rule, ok := c.rules.Match(in.Message); ok {
		return NonRetryableClient, &rule
	}
	if in.HTTPStatus == 404 {
		return ResourceNotFound, nil
	}
	if in.EmptyResponse {
		return ProviderError, nil
	}
	if in.HTTPStatus == 524 {
		return ProviderError, nil
	}
	if in.HTTPStatus >= 400 {
		return ProviderError, nil
	}
	return SystemError, nil
}
