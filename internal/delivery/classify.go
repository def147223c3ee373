package delivery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"bookdesk/internal/channels"
	bookdesk_errors "bookdesk/pkg/errors"
)

// DefaultRetryAfter applies to rate limits that do not name a delay.
const DefaultRetryAfter = 60 * time.Second

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindServiceUnavailable
	KindRateLimit
	KindAuthentication
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK_ERROR"
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindRateLimit:
		return "RATE_LIMIT_ERROR"
	case KindAuthentication:
		return "AUTHENTICATION_ERROR"
	case KindValidation:
		return "VALIDATION_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Retryable is false only for validation errors, which are permanent.
func (k ErrorKind) Retryable() bool {
	return k != KindValidation
}

type Classification struct {
	Kind       ErrorKind
	RetryAfter time.Duration
}

var patterns = []struct {
	kind    ErrorKind
	needles []string
}{
	{KindNetwork, []string{"network", "fetch", "connection refused", "connection reset", "no such host", "dial tcp", "timeout", "eof"}},
	{KindServiceUnavailable, []string{"service unavailable", "bad gateway", "502", "503"}},
	{KindRateLimit, []string{"rate limit", "too many requests", "429"}},
	{KindAuthentication, []string{"unauthorized", "forbidden", "invalid token", "401", "403"}},
	{KindValidation, []string{"validation", "bad request", "invalid", "400"}},
}

// Classify maps a send failure onto an error kind. HTTP status codes win over
// message patterns.
func Classify(err error) Classification {
	return classify(err, DefaultRetryAfter)
}

// classify is Classify with a configurable rate limit delay for failures that
// name none.
func classify(err error, defaultRetryAfter time.Duration) Classification {
	if err == nil {
		return Classification{}
	}

	var httpErr *channels.HTTPError
	if errors.As(err, &httpErr) {
		if c, ok := classifyStatus(httpErr.StatusCode, httpErr.RetryAfter, defaultRetryAfter); ok {
			return c
		}
	}

	switch bookdesk_errors.CodeOf(err) {
	case bookdesk_errors.CodeNetwork:
		return Classification{Kind: KindNetwork}
	case bookdesk_errors.CodeServiceUnavailable:
		return Classification{Kind: KindServiceUnavailable}
	case bookdesk_errors.CodeRateLimit:
		return Classification{Kind: KindRateLimit, RetryAfter: defaultRetryAfter}
	case bookdesk_errors.CodeAuthentication:
		return Classification{Kind: KindAuthentication}
	case bookdesk_errors.CodeValidation:
		return Classification{Kind: KindValidation}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindNetwork}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				c := Classification{Kind: p.kind}
				if p.kind == KindRateLimit {
					c.RetryAfter = defaultRetryAfter
				}
				return c
			}
		}
	}
	return Classification{Kind: KindUnknown}
}

func classifyStatus(status int, retryAfter, defaultRetryAfter time.Duration) (Classification, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		return Classification{Kind: KindRateLimit, RetryAfter: retryAfter}, true
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return Classification{Kind: KindServiceUnavailable}, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Classification{Kind: KindAuthentication}, true
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return Classification{Kind: KindValidation}, true
	case status >= 500:
		return Classification{Kind: KindUnknown}, true
	}
	return Classification{}, false
}
