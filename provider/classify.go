package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"parley/transport"
)

// streamErrorPrefix is how both vendor SDKs report an error event received
// in the middle of an SSE stream.
const streamErrorPrefix = "received error while streaming: "

// Classify maps any failure from an SDK, the transport, or the network into
// a *Error. ctx is the request context; when it has been cancelled the
// result is a cancellation (or a timeout for an expired deadline) no matter
// what the transport reported.
func Classify(ctx context.Context, providerName string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := AsError(err); ok {
		if pe.Provider != "" {
			return pe
		}
		// Copy so shared values such as the sentinels are never mutated.
		cp := *pe
		cp.Provider = providerName
		return &cp
	}

	if ctx != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Provider: providerName, Message: "request deadline exceeded", Err: err}
		}
		return &Error{Kind: KindCancelled, Provider: providerName, Message: "request cancelled", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Provider: providerName, Message: "request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: providerName, Message: "request deadline exceeded", Err: err}
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return fromResponse(providerName, oaErr.StatusCode, headerOf(oaErr.Response), []byte(oaErr.RawJSON()), err)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return fromResponse(providerName, anErr.StatusCode, headerOf(anErr.Response), []byte(anErr.RawJSON()), err)
	}
	var olErr api.StatusError
	if errors.As(err, &olErr) {
		e := fromResponse(providerName, olErr.StatusCode, nil, nil, err)
		if olErr.ErrorMessage != "" {
			e.Message = olErr.ErrorMessage
		}
		return e
	}
	var stErr *transport.StatusError
	if errors.As(err, &stErr) {
		return fromResponse(providerName, stErr.StatusCode, stErr.Header, stErr.Body, err)
	}

	if _, body, ok := strings.Cut(err.Error(), streamErrorPrefix); ok && gjson.Valid(body) {
		return fromResponse(providerName, 0, nil, []byte(body), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Provider: providerName, Message: "network timeout", Err: err}
	}

	// DNS failures, refused connections, resets and undecodable payloads.
	return &Error{Kind: KindServer, Provider: providerName, Message: err.Error(), Err: err}
}

func headerOf(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}

// fromResponse classifies by status first. The vendor body decides the kind
// only when the status is ambiguous (400, unmapped, or absent for stream
// errors), or to narrow a failure down to a quota or rate limit.
func fromResponse(providerName string, status int, header http.Header, body []byte, cause error) *Error {
	hint := parseErrorBody(body)

	e := &Error{
		Kind:       resolveKind(status, hint.kind),
		Provider:   providerName,
		StatusCode: status,
		Message:    hint.message,
		Err:        cause,
	}
	if e.Message == "" && status != 0 {
		e.Message = http.StatusText(status)
	}

	if e.Kind == KindRateLimit || status == http.StatusTooManyRequests {
		e.RetryAfter = parseRetryAfter(header, time.Now())
		if e.RetryAfter == 0 {
			e.RetryAfter = hint.retryDelay
		}
	}
	return e
}

func resolveKind(status int, hinted ErrorKind) ErrorKind {
	if hinted == KindQuotaExceeded || hinted == KindRateLimit {
		return hinted
	}
	if hinted != "" && (status == 0 || status == http.StatusBadRequest || !statusMapped(status)) {
		return hinted
	}
	if status == 0 {
		return KindServer
	}
	return kindForStatus(status)
}

// statusMapped reports whether the status table alone is authoritative.
func statusMapped(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusPaymentRequired,
		http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return true
	}
	return status >= 500
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound:
		return KindModelNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge:
		return KindInvalidRequest
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusPaymentRequired:
		return KindQuotaExceeded
	default:
		return KindServer
	}
}

type bodyHint struct {
	kind       ErrorKind
	message    string
	retryDelay time.Duration
}

// parseErrorBody understands the three vendor error envelopes:
//
//	OpenAI:    {"error":{"message","type","code"}} (the SDK hands us the inner object)
//	Anthropic: {"type":"error","error":{"type","message"}}
//	Gemini:    {"error":{"code","message","status","details":[...]}}
func parseErrorBody(body []byte) bodyHint {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return bodyHint{}
	}

	obj := gjson.ParseBytes(body)
	if inner := obj.Get("error"); inner.IsObject() {
		obj = inner
	}

	hint := bodyHint{message: obj.Get("message").String()}

	if status := obj.Get("status").String(); status != "" {
		hint.kind = geminiKind(status, obj)
		obj.Get("details").ForEach(func(_, detail gjson.Result) bool {
			delay := detail.Get("retryDelay").String()
			if delay == "" {
				return true
			}
			if d, err := time.ParseDuration(delay); err == nil {
				hint.retryDelay = d
			}
			return false
		})
		return hint
	}

	code := obj.Get("code").String()
	typ := obj.Get("type").String()

	switch {
	case code == "insufficient_quota", typ == "insufficient_quota", typ == "billing_error":
		hint.kind = KindQuotaExceeded
	case code == "invalid_api_key", typ == "authentication_error", typ == "permission_error":
		hint.kind = KindAuth
	case code == "model_not_found", typ == "not_found_error":
		hint.kind = KindModelNotFound
	case code == "rate_limit_exceeded", typ == "rate_limit_error":
		hint.kind = KindRateLimit
	case typ == "overloaded_error", typ == "api_error", typ == "server_error":
		hint.kind = KindServer
	case typ == "timeout_error":
		hint.kind = KindTimeout
	case typ == "invalid_request_error":
		hint.kind = KindInvalidRequest
		if strings.Contains(strings.ToLower(hint.message), "credit balance") {
			hint.kind = KindQuotaExceeded
		}
	}
	return hint
}

func geminiKind(status string, obj gjson.Result) ErrorKind {
	invalidKey := false
	obj.Get("details").ForEach(func(_, detail gjson.Result) bool {
		invalidKey = detail.Get("reason").String() == "API_KEY_INVALID"
		return !invalidKey
	})
	if invalidKey {
		return KindAuth
	}
	switch status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return KindAuth
	case "RESOURCE_EXHAUSTED":
		return KindRateLimit
	case "NOT_FOUND":
		return KindModelNotFound
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "OUT_OF_RANGE":
		return KindInvalidRequest
	case "DEADLINE_EXCEEDED":
		return KindTimeout
	case "CANCELLED":
		return KindCancelled
	case "UNAVAILABLE", "INTERNAL", "UNKNOWN", "ABORTED":
		return KindServer
	default:
		return ""
	}
}

// parseRetryAfter reads retry-after-ms, then retry-after as seconds or an
// HTTP date.
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	if ms := header.Get("Retry-After-Ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}

	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}
