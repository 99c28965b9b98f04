package fallback

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/providers"
)

// Failure classifies why the primary call did not produce a decision
type Failure int

const (
	FailureOther       Failure = iota
	FailureQuota               // rate limited or out of quota
	FailureTimeout             // timed out or could not connect
	FailureCircuitOpen         // refused by the breaker
)

func (f Failure) String() string {
	switch f {
	case FailureQuota:
		return "quota"
	case FailureTimeout:
		return "timeout"
	case FailureCircuitOpen:
		return "circuit_open"
	default:
		return "other"
	}
}

// Classify maps an error to a Failure. Typed errors are used when present;
// error text is only consulted for errors that carry no type.
func Classify(err error) Failure {
	if err == nil {
		return FailureOther
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return FailureCircuitOpen
	}
	if kind, ok := providers.KindOf(err); ok {
		switch kind {
		case providers.KindQuota:
			return FailureQuota
		case providers.KindTimeout, providers.KindUnavailable:
			return FailureTimeout
		default:
			return FailureOther
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTimeout
	}
	return classifyText(err.Error())
}

func classifyText(text string) Failure {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "rate limit"), strings.Contains(text, "quota"), strings.Contains(text, "429"):
		return FailureQuota
	case strings.Contains(text, "timeout"), strings.Contains(text, "timed out"), strings.Contains(text, "connection"):
		return FailureTimeout
	case strings.Contains(text, "circuit"):
		return FailureCircuitOpen
	default:
		return FailureOther
	}
}
