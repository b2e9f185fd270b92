package retry

import (
	"context"
	"errors"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/failure"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

// coded is implemented by JSON-RPC errors.
type coded interface {
	ErrorCode() int
}

// Classify decides whether err is worth another attempt.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}

	switch failure.KindOf(err) {
	case failure.KindNetwork:
		return Decision{Class: ClassTransient, Reason: "network"}
	case failure.KindRateLimited:
		return Decision{Class: ClassTransient, Reason: "rate_limited"}
	case failure.KindDecode, failure.KindNotFound, failure.KindPersistence, failure.KindCanceled:
		return Decision{Class: ClassTerminal, Reason: "kind_" + string(failure.KindOf(err))}
	}

	var rpcErr coded
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.ErrorCode())
	}
	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyJSONRPCCode(code int) Decision {
	if code == -32603 || code == -32005 {
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_transient"}
	}
	// -32000 is the generic "execution reverted" code on most clients.
	if code < -32000 && code >= -32099 {
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_range"}
	}
	return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
}

// Policy is a bounded exponential backoff. The zero value makes one attempt.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Do runs fn until it succeeds, fails terminally, the attempts are spent or
// ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= attempts || !Classify(err).IsTransient() {
			return err
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
}
