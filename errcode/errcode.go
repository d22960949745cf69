// Package errcode defines the error taxonomy shared across every Enact
// component, so a caller can type-switch on a single Code regardless of
// which layer raised the error.
package errcode

import "errors"

// Code tags an Error with one of the failure modes enumerated across the
// manifest, bundle, signing, trust, registry, resolver, and execution
// components.
type Code string

const (
	InvalidName     Code = "INVALID_NAME"
	InvalidVersion  Code = "INVALID_VERSION"
	SchemaViolation Code = "SCHEMA_VIOLATION"
	MixedTemplate   Code = "MIXED_TEMPLATE"
	DuplicateScript Code = "DUPLICATE_SCRIPT"

	ValidationError Code = "VALIDATION_ERROR"
	MissingParam    Code = "MISSING_PARAM"

	NotFound          Code = "NOT_FOUND"
	Conflict          Code = "CONFLICT"
	Unauthorized      Code = "UNAUTHORIZED"
	NamespaceMismatch Code = "NAMESPACE_MISMATCH"
	VersionYanked     Code = "VERSION_YANKED"
	BadRequest        Code = "BAD_REQUEST"

	OIDCFailed          Code = "OIDC_FAILED"
	CertIssueFailed     Code = "CERT_ISSUE_FAILED"
	LogInclusionFailed  Code = "LOG_INCLUSION_FAILED"
	SigInvalid          Code = "SIG_INVALID"
	IdentityMismatch    Code = "IDENTITY_MISMATCH"
	PolicyFail          Code = "POLICY_FAIL"

	BuildError       Code = "BUILD_ERROR"
	RuntimeNotFound  Code = "RUNTIME_NOT_FOUND"
	ContainerError   Code = "CONTAINER_ERROR"
	Timeout          Code = "TIMEOUT"
	Cancelled        Code = "CANCELLED"
	NetworkError     Code = "NETWORK_ERROR"
	EngineError      Code = "ENGINE_ERROR"
	CommandError     Code = "COMMAND_ERROR"
)

// Error is the typed application error surfaced as JSON by the registry
// service and returned directly by library calls.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// New builds an *Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error carrying structured details.
func Newf(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// As reports whether err (or any error it wraps) is an *Error, and if so
// returns it. Mirrors the errors.As contract without requiring callers to
// import "errors" at every call site.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
