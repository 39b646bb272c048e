// Package wserrors defines the structured error surface shared by the server,
// the client, and the adapters. Errors carry a stable programmatic Code so
// callers can branch without string matching.
package wserrors

import "fmt"

// Scope identifies which half of the system produced the error.
type Scope string

const (
	ScopeServer  Scope = "server"
	ScopeClient  Scope = "client"
	ScopeAdapter Scope = "adapter"
)

// Stage identifies which step of the connection or message path failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageListen    Stage = "listen"
	StageUpgrade   Stage = "upgrade"
	StageDial      Stage = "dial"
	StageProtocol  Stage = "protocol"
	StageDispatch  Stage = "dispatch"
	StageTransport Stage = "transport"
	StageRelay     Stage = "relay"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeTimeout           Code = "timeout"
	CodeCanceled          Code = "canceled"
	CodeInvalidConfig     Code = "invalid_config"
	CodeInvalidKeyLength  Code = "invalid_key_length"
	CodeInvalidAlgorithm  Code = "invalid_algorithm"
	CodeBadRequest        Code = "bad_request"
	CodeListenFailed      Code = "listen_failed"
	CodeUnknownNamespace  Code = "unknown_namespace"
	CodeUnauthorized      Code = "unauthorized"
	CodeOriginRejected    Code = "origin_rejected"
	CodeCapacityExceeded  Code = "capacity_exceeded"
	CodeUpgradeFailed     Code = "upgrade_failed"
	CodeDialFailed        Code = "dial_failed"
	CodeNotConnected      Code = "not_connected"
	CodeDecryptFailed     Code = "decrypt_failed"
	CodeFrameTooLarge     Code = "frame_too_large"
	CodeCallbackTimeout   Code = "callback_timeout"
	CodeUploadIncomplete  Code = "upload_incomplete"
	CodeUploadTimeout     Code = "upload_timeout"
	CodeQueueClosed       Code = "queue_closed"
	CodeAdapterInitFailed Code = "adapter_init_failed"
	CodeRelayFailed       Code = "relay_failed"
	CodeWatchFailed       Code = "watch_failed"
	CodePingTimeout       Code = "ping_timeout"
	CodeClosed            Code = "closed"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Scope Scope
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Scope, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Scope, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured error around err. err may be nil when the
// scope/stage/code triple is self-describing.
func Wrap(scope Scope, stage Stage, code Code, err error) error {
	return &Error{Scope: scope, Stage: stage, Code: code, Err: err}
}

// CodeOf extracts the Code from err, or "" when err carries none.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
