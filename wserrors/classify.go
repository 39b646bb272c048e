package wserrors

import (
	"context"
	"errors"
)

// ClassifyDialCode maps a client dial error to a stable Code.
func ClassifyDialCode(err error) Code {
	return classifyContextCode(err, CodeDialFailed)
}

// ClassifyRelayCode maps an adapter relay error to a stable Code.
func ClassifyRelayCode(err error) Code {
	return classifyContextCode(err, CodeRelayFailed)
}

func classifyContextCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return fallback
	}
}
