package deadbolt

import (
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TwoFactorMethod is a second-factor delivery method.
type TwoFactorMethod string

const (
	TwoFactorNone  TwoFactorMethod = ""
	TwoFactorTOTP  TwoFactorMethod = "totp"
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorSMS   TwoFactorMethod = "sms"
)

// TwoFactorMethods lists every supported method.
var TwoFactorMethods = []TwoFactorMethod{TwoFactorTOTP, TwoFactorEmail, TwoFactorSMS}

func (m TwoFactorMethod) Valid() bool {
	switch m {
	case TwoFactorTOTP, TwoFactorEmail, TwoFactorSMS:
		return true
	}
	return false
}

// Delivered reports whether codes for this method are sent out of band
// rather than computed by an authenticator app.
func (m TwoFactorMethod) Delivered() bool {
	return m == TwoFactorEmail || m == TwoFactorSMS
}

func (m TwoFactorMethod) String() string { return string(m) }

// ParseTwoFactorMethod accepts a method name in any case.
func ParseTwoFactorMethod(s string) (TwoFactorMethod, error) {
	m := TwoFactorMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return TwoFactorNone, &Error{Code: CodeInvalidTwoFactorMethod, Message: fmt.Sprintf("unknown method %q", s)}
	}
	return m, nil
}

// ============================================================================
// TwoFactorChallenge
// ============================================================================

// TwoFactorChallenge is a pending second-factor verification. It can be
// redeemed once; the service is authoritative for that and the client only
// reports the Used flag.
type TwoFactorChallenge struct {
	Type    TwoFactorMethod   `json:"type"`
	Expires serialx.Timestamp `json:"expires,omitzero"`
	Used    bool              `json:"used"`

	// Token is the code delivered out of band (email or SMS).
	Token string `json:"token,omitempty"`

	// UserToken correlates a verification with this challenge and must be
	// echoed back to VerifyTwoFactor.
	UserToken string `json:"userToken,omitempty"`

	Attempt int `json:"attempt"`

	// Secret, OTPAuthURL and Confirmed are only sent for totp challenges
	// whose enrolment is still in progress.
	Secret     string `json:"secret,omitempty"`
	OTPAuthURL string `json:"otpAuthUrl,omitempty"`
	Confirmed  *bool  `json:"confirmed,omitempty"`
}

// Redeemable reports whether the challenge is unused and unexpired at now. A
// challenge with no known expiry is treated as live.
func (c *TwoFactorChallenge) Redeemable(now time.Time) bool {
	if c == nil || c.Used {
		return false
	}
	return !c.Expires.Valid || now.Before(c.Expires.Time)
}

var challengeMapping = serialx.Mapping{
	"expires":   serialx.Time,
	"confirmed": confirmedRule,
}

// DecodeChallenge builds a challenge from a wire payload. A null payload or
// an empty object both yield nil: only a populated challenge means a second
// factor is pending.
func DecodeChallenge(payload any) (*TwoFactorChallenge, error) {
	if obj, ok := payload.(map[string]any); ok && len(obj) == 0 {
		return nil, nil
	}
	return serialx.Decode[TwoFactorChallenge](payload, challengeMapping)
}

// ============================================================================
// TwoFactorSetupInfo
// ============================================================================

// ErrMalformedSetup reports setup info whose populated fields do not match
// its method.
var ErrMalformedSetup = &Error{Code: CodeMalformedTwoFactorSetup}

// TwoFactorSetupInfo is the result of starting enrolment. Authenticator
// enrolment (totp) carries Secret, OTPAuthURL, Confirmed and UserToken;
// delivered methods carry only Message.
type TwoFactorSetupInfo struct {
	Type       TwoFactorMethod   `json:"type"`
	Message    string            `json:"message,omitempty"`
	Confirmed  *bool             `json:"confirmed,omitempty"`
	Expires    serialx.Timestamp `json:"expires,omitzero"`
	UserToken  string            `json:"userToken,omitempty"`
	Secret     string            `json:"secret,omitempty"`
	OTPAuthURL string            `json:"otpAuthUrl,omitempty"`
}

var setupMapping = serialx.Mapping{
	"expires":   serialx.Time,
	"confirmed": confirmedRule,
}

// confirmedRule reads a confirmation reported either as a flag or as the time
// it happened.
var confirmedRule = serialx.Nested(func(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return serialx.ParseTimestamp(v).Valid, nil
})

// DecodeSetupInfo builds setup info from a wire payload.
func DecodeSetupInfo(payload any) (*TwoFactorSetupInfo, error) {
	return serialx.Decode[TwoFactorSetupInfo](payload, setupMapping)
}

// Validate checks that exactly one field group is populated and that it is
// the one Type calls for.
func (s *TwoFactorSetupInfo) Validate() error {
	if s == nil {
		return &Error{Code: CodeMalformedTwoFactorSetup, Message: "no setup info"}
	}

	authenticator := s.Secret != "" || s.OTPAuthURL != "" || s.Confirmed != nil
	delivered := s.Message != ""

	switch {
	case !s.Type.Valid():
		return &Error{Code: CodeMalformedTwoFactorSetup, Message: fmt.Sprintf("unknown method %q", s.Type)}
	case s.Type == TwoFactorTOTP && (delivered || s.Secret == "" || s.OTPAuthURL == ""):
		return &Error{Code: CodeMalformedTwoFactorSetup, Message: "totp setup needs a secret and otpauth url and no message"}
	case s.Type.Delivered() && (authenticator || !delivered):
		return &Error{Code: CodeMalformedTwoFactorSetup, Message: fmt.Sprintf("%s setup needs a message only", s.Type)}
	}
	return nil
}

// Key parses the otpauth URL into an authenticator key.
func (s *TwoFactorSetupInfo) Key() (*otp.Key, error) {
	if s.OTPAuthURL == "" {
		return nil, fmt.Errorf("deadbolt: %s setup has no otpauth url", s.Type)
	}
	key, err := otp.NewKeyFromURL(s.OTPAuthURL)
	if err != nil {
		return nil, fmt.Errorf("deadbolt: parse otpauth url: %w", err)
	}
	return key, nil
}

// Code computes the authenticator code for t from the enrolled secret.
func (s *TwoFactorSetupInfo) Code(t time.Time) (string, error) {
	if s.Secret == "" {
		return "", fmt.Errorf("deadbolt: %s setup has no secret", s.Type)
	}
	code, err := totp.GenerateCode(s.Secret, t)
	if err != nil {
		return "", fmt.Errorf("deadbolt: generate totp code: %w", err)
	}
	return code, nil
}
