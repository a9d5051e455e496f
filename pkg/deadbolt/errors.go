package deadbolt

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
)

// ============================================================================
// Error codes
// ============================================================================

// Fatal error codes. Each operation that can fail unexpectedly has its own
// code so callers can tell which call broke the contract.
const (
	CodeUnknown                 = "unknown-error"
	CodeStatus                  = "status-error"
	CodeLogin                   = "login-error"
	CodeCheckSession            = "check-session-error"
	CodeTwoFactorSetup          = "2fa-setup-error"
	CodeTwoFactorRequest        = "2fa-request-error"
	CodeTwoFactorVerify         = "2fa-verify-error"
	CodeTwoFactorReset          = "2fa-reset-error"
	CodeTwoFactorTokens         = "2fa-tokens-error"
	CodeGetUser                 = "error-getting-user"
	CodeGetUsers                = "get-users-error"
	CodeAddUser                 = "add-user-failed"
	CodeEmailAlreadyExists      = "email-already-exists"
	CodeMissingUUID             = "missing-uuid"
	CodeUpdateUser              = "update-user-failed"
	CodeUpdateMemberships       = "update-memberships-failed"
	CodePurgeUser               = "purge-user-failed"
	CodeUserNotFound            = "user-not-found"
	CodeConfirmEmail            = "confirm-email-error"
	CodeRequestPasswordReset    = "request-password-reset-error"
	CodePasswordReset           = "password-reset-error"
	CodeChangePassword          = "change-password-error"
	CodeVerifyPassword          = "verify-password-error"
	CodeInvalidateSessions      = "invalidate-sessions-error"
	CodeInvalidTwoFactorMethod  = "invalid-2fa-method"
	CodeMalformedTwoFactorSetup = "malformed-2fa-setup"
)

// Reason slugs carried by structured failures.
const (
	ReasonInvalidCredentials = "invalid-credentials"
	ReasonSessionNotFound    = "session-not-found"
	ReasonVerificationFailed = "verification-failed"
	ReasonAddressNotFound    = "address-not-found"
	ReasonIncorrectPassword  = "incorrect-password"
	ReasonSessionExpired     = "session-expired"
)

// ============================================================================
// Error
// ============================================================================

// Error is a fatal failure: the service answered in a way the client does not
// expect, or could not be reached at all. Expected outcomes such as a wrong
// password are reported through result values instead.
type Error struct {
	// Code is a short machine-readable slug, e.g. "login-error".
	Code string

	// Message is optional human-readable detail.
	Message string

	// Status is the HTTP status that triggered the error, or 0 when no
	// response was received.
	Status int

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return strings.TrimSpace(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	}
	return e.Code
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error. An empty code becomes CodeUnknown.
func NewError(code, message string) *Error {
	if code == "" {
		code = CodeUnknown
	}
	return &Error{Code: code, Message: message}
}

var (
	ErrEmailAlreadyExists = &Error{Code: CodeEmailAlreadyExists}
	ErrMissingUUID        = &Error{Code: CodeMissingUUID}
	ErrUserNotFound       = &Error{Code: CodeUserNotFound}
)

// responseError converts an unexpected response into an Error. The message
// is the server's reason when it sent one.
func responseError(code string, res *httpx.Result) *Error {
	msg := res.String("reason")
	if msg == "" {
		msg = http.StatusText(res.Status)
	}
	return &Error{Code: code, Message: msg, Status: res.Status}
}

// transportError wraps a failure to obtain a response at all.
func transportError(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// ============================================================================
// Reason slugs
// ============================================================================

// maxCodeDepth bounds the descent through nested error payloads.
const maxCodeDepth = 5

var (
	slugStrip = regexp.MustCompile(`[^\w -]|_`)
	slugSpace = regexp.MustCompile(`\s`)
)

// ErrorCode derives a reason slug from an arbitrary failure payload.
//
// Strings are slugged directly: characters other than letters, digits,
// spaces and hyphens are removed, whitespace becomes "-", and the result is
// lowercased. Objects are searched for the first non-empty of "reason",
// "message", "error" or "body", recursing at most five levels deep. Anything
// else yields "unknown-error".
func ErrorCode(obj any) string {
	return errorCode(obj, 0)
}

func errorCode(obj any, depth int) string {
	if depth > maxCodeDepth || !truthy(obj) {
		return CodeUnknown
	}

	switch v := obj.(type) {
	case string:
		return Slug(v)
	case *Error:
		if v.Code != "" {
			return v.Code
		}
		return errorCode(v.Message, depth+1)
	case *httpx.Result:
		return errorCode(v.Body, depth+1)
	case error:
		return Slug(v.Error())
	case map[string]string:
		for _, key := range []string{"reason", "message", "error", "body"} {
			if s := v[key]; s != "" {
				return errorCode(s, depth+1)
			}
		}
	case map[string]any:
		for _, key := range []string{"reason", "message", "error", "body"} {
			if val := v[key]; truthy(val) {
				return errorCode(val, depth+1)
			}
		}
	}
	return CodeUnknown
}

// Slug normalises free text into a reason slug.
func Slug(s string) string {
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	return strings.ToLower(s)
}

// truthy mirrors what a loosely typed payload would consider "set".
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case *Error:
		return x != nil
	case *httpx.Result:
		return x != nil
	case map[string]any:
		return x != nil
	default:
		return true
	}
}
