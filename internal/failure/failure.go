package failure

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the failure taxonomy shared by every fetcher.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindDecode      Kind = "decode"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindPersistence Kind = "persistence"
	KindCanceled    Kind = "canceled"
	KindUnknown     Kind = "unknown"
)

type classifiedError struct {
	err  error
	kind Kind
}

func (e *classifiedError) Error() string {
	return string(e.kind) + ": " + e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var marked *classifiedError
	if errors.As(err, &marked) && marked.kind == kind {
		return err
	}
	return &classifiedError{err: err, kind: kind}
}

// Network marks err as an unreachable endpoint or non-2xx response.
func Network(err error) error { return wrap(KindNetwork, err) }

// Decode marks err as a malformed ABI return or metadata document.
func Decode(err error) error { return wrap(KindDecode, err) }

// NotFound marks err as an absent token or asset.
func NotFound(err error) error { return wrap(KindNotFound, err) }

// RateLimited marks err as a third-party quota rejection.
func RateLimited(err error) error { return wrap(KindRateLimited, err) }

// Persistence marks err as a cursor write or read failure.
func Persistence(err error) error { return wrap(KindPersistence, err) }

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the explicit kind of err, falling back to Classify for
// errors that were never marked.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var marked *classifiedError
	if errors.As(err, &marked) {
		return marked.kind
	}
	return Classify(err)
}

// Classify maps a raw transport error onto the taxonomy by inspection.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, rateLimitTokens):
		return KindRateLimited
	case containsAny(lower, decodeTokens):
		return KindDecode
	case containsAny(lower, notFoundTokens):
		return KindNotFound
	case containsAny(lower, networkTokens):
		return KindNetwork
	}
	return KindUnknown
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var rateLimitTokens = []string{
	"rate limit",
	"too many requests",
	"http status 429",
	"quota",
}

var decodeTokens = []string{
	"unmarshal",
	"invalid character",
	"unexpected end of json",
	"abi: ",
	"parse hex",
}

var notFoundTokens = []string{
	"not found",
	"http status 404",
}

var networkTokens = []string{
	"timeout",
	"timed out",
	"unavailable",
	"connection reset",
	"connection refused",
	"no such host",
	"broken pipe",
	"eof",
	"http status 5",
	"http request",
}
