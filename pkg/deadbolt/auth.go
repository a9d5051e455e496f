package deadbolt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// AuthState is where a login attempt stands.
type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticated
	TwoFactorPending
	LoginFailed
	VerificationFailed
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case TwoFactorPending:
		return "two-factor-pending"
	case LoginFailed:
		return "login-failed"
	case VerificationFailed:
		return "verification-failed"
	default:
		return "unauthenticated"
	}
}

// SessionResult is the outcome of a login, a session lookup or a two-factor
// verification.
type SessionResult struct {
	Success bool `json:"success"`

	// User is nil on failure. While a second factor is pending the user has
	// no session.
	User *User `json:"user,omitempty"`

	// Challenge is set only while a second factor is pending.
	Challenge *TwoFactorChallenge `json:"twoFactorData,omitempty"`

	// Reason is a slug explaining a failure.
	Reason string `json:"reason,omitempty"`

	verification bool
}

// NeedsTwoFactor reports whether a second factor must be verified before the
// user is authenticated. It is derived from the challenge alone.
func (r *SessionResult) NeedsTwoFactor() bool {
	return r != nil && r.Challenge != nil
}

// State maps the result onto the login state machine.
func (r *SessionResult) State() AuthState {
	switch {
	case r == nil:
		return Unauthenticated
	case !r.Success && r.verification:
		return VerificationFailed
	case !r.Success:
		return LoginFailed
	case r.NeedsTwoFactor():
		return TwoFactorPending
	default:
		return Authenticated
	}
}

var sessionResultMapping = serialx.Mapping{
	"user": serialx.Object[User](userMapping),
	"twoFactorData": serialx.Nested(func(v any) (any, error) {
		return DecodeChallenge(v)
	}),
}

// DecodeSessionResult builds a session result from a wire payload.
func DecodeSessionResult(payload any) (*SessionResult, error) {
	return serialx.Decode[SessionResult](payload, sessionResultMapping)
}

func failedSession(reason string, verification bool) *SessionResult {
	return &SessionResult{Success: false, Reason: reason, verification: verification}
}

// reasonOr derives a reason slug from a failure response, using fallback when
// the response carries none.
func reasonOr(res *httpx.Result, fallback string) string {
	if code := ErrorCode(res); code != CodeUnknown {
		return code
	}
	return fallback
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	App      string `json:"app,omitempty"`
}

// Login authenticates with a username or email and password.
//
// Rejected credentials are a failed result with a reason, not an error. When
// the account uses a second factor the result carries a challenge and the
// user has no session yet; redeem it with VerifyTwoFactor.
func (c *Client) Login(ctx context.Context, creds Credentials) (*SessionResult, error) {
	res, err := c.transport.Post(ctx, "session", loginRequest{
		Username: creds.Identifier,
		Password: creds.Password,
		App:      creds.App,
	})
	if err != nil {
		return nil, c.unreachable(ctx, CodeLogin, err)
	}

	switch res.Status {
	case http.StatusOK:
		out, err := DecodeSessionResult(res.Body)
		if err != nil || out == nil {
			return nil, c.malformed(ctx, CodeLogin, res, orMalformed(err))
		}
		out.Success = true
		if out.NeedsTwoFactor() && out.User != nil {
			out.User.Session = nil
		}
		return out, nil

	case http.StatusUnprocessableEntity:
		reason := reasonOr(res, ReasonInvalidCredentials)
		c.log(ctx).Debug("login rejected", "reason", reason)
		return failedSession(reason, false), nil

	default:
		return nil, c.unexpected(ctx, CodeLogin, res)
	}
}

// CheckSession resolves a session token to its user. The service decides
// whether the session is live; an unknown token is a failed result. With
// WithExpiryCheck, a session already expired by that clock also fails.
func (c *Client) CheckSession(ctx context.Context, token string) (*SessionResult, error) {
	res, err := c.transport.Get(ctx, "user-by-session/"+url.PathEscape(token))
	if err != nil {
		return nil, c.unreachable(ctx, CodeCheckSession, err)
	}

	switch res.Status {
	case http.StatusOK:
		user, err := DecodeUser(res.Body)
		if err != nil || user == nil {
			return nil, c.malformed(ctx, CodeCheckSession, res, orMalformed(err))
		}
		if s := user.Session; c.expiryClock != nil && s != nil && s.Valid() && s.Expired(c.expiryClock()) {
			c.log(ctx).Debug("session expired by local clock", "user", user.UUID)
			return failedSession(ReasonSessionExpired, false), nil
		}
		return &SessionResult{Success: true, User: user}, nil

	case http.StatusNotFound:
		return failedSession(reasonOr(res, ReasonSessionNotFound), false), nil

	default:
		return nil, c.unexpected(ctx, CodeCheckSession, res)
	}
}

type twoFactorRequest struct {
	Type       TwoFactorMethod `json:"type"`
	Identifier string          `json:"identifier"`
}

// SetupTwoFactor starts enrolment of method for the user.
func (c *Client) SetupTwoFactor(ctx context.Context, identifier string, method TwoFactorMethod) (*TwoFactorSetupInfo, error) {
	if !method.Valid() {
		return nil, invalidMethod(method)
	}

	res, err := c.transport.Post(ctx, "setup-2fa", twoFactorRequest{Type: method, Identifier: identifier})
	if err != nil {
		return nil, c.unreachable(ctx, CodeTwoFactorSetup, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeTwoFactorSetup, res)
	}

	info, err := DecodeSetupInfo(res.Body)
	if err != nil || info == nil {
		return nil, c.malformed(ctx, CodeTwoFactorSetup, res, orMalformed(err))
	}
	if err := info.Validate(); err != nil {
		c.log(ctx).Error("inconsistent 2fa setup response", "body", string(res.Raw), "err", err)
		return nil, err
	}
	return info, nil
}

// RequestTwoFactor issues a fresh challenge, for when the user needs a new
// code.
func (c *Client) RequestTwoFactor(ctx context.Context, identifier string, method TwoFactorMethod) (*TwoFactorChallenge, error) {
	if !method.Valid() {
		return nil, invalidMethod(method)
	}

	res, err := c.transport.Post(ctx, "request-2fa", twoFactorRequest{Type: method, Identifier: identifier})
	if err != nil {
		return nil, c.unreachable(ctx, CodeTwoFactorRequest, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeTwoFactorRequest, res)
	}

	challenge, err := DecodeChallenge(res.Body)
	if err != nil || challenge == nil {
		return nil, c.malformed(ctx, CodeTwoFactorRequest, res, orMalformed(err))
	}
	return challenge, nil
}

type verifyRequest struct {
	Type       TwoFactorMethod `json:"type"`
	Identifier string          `json:"identifier"`
	Data       verifyData      `json:"data"`
}

type verifyData struct {
	Token     string `json:"token"`
	UserToken string `json:"userToken"`
}

// VerifyTwoFactor redeems a challenge with the code the user supplied and the
// challenge's correlation token. A wrong, expired or spent code is a failed
// result, not an error.
func (c *Client) VerifyTwoFactor(ctx context.Context, identifier, code, userToken string, method TwoFactorMethod) (*SessionResult, error) {
	if !method.Valid() {
		return nil, invalidMethod(method)
	}

	res, err := c.transport.Post(ctx, "verify-2fa", verifyRequest{
		Type:       method,
		Identifier: identifier,
		Data:       verifyData{Token: code, UserToken: userToken},
	})
	if err != nil {
		return nil, c.unreachable(ctx, CodeTwoFactorVerify, err)
	}

	switch res.Status {
	case http.StatusOK:
		user, err := DecodeUser(res.Field("user"))
		if err != nil || user == nil {
			return nil, c.malformed(ctx, CodeTwoFactorVerify, res, orMalformed(err))
		}
		return &SessionResult{Success: true, User: user, verification: true}, nil

	case http.StatusUnprocessableEntity:
		reason := reasonOr(res, ReasonVerificationFailed)
		c.log(ctx).Debug("2fa verification rejected", "reason", reason)
		return failedSession(reason, true), nil

	default:
		return nil, c.unexpected(ctx, CodeTwoFactorVerify, res)
	}
}

// ResetTwoFactor re-enrols the user in method and ends all of their sessions.
func (c *Client) ResetTwoFactor(ctx context.Context, uuid string, method TwoFactorMethod) (*TwoFactorSetupInfo, error) {
	if !method.Valid() {
		return nil, invalidMethod(method)
	}

	res, err := c.transport.Post(ctx, "setup-2fa", twoFactorRequest{Type: method, Identifier: uuid})
	if err != nil {
		return nil, c.unreachable(ctx, CodeTwoFactorReset, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeTwoFactorReset, res)
	}

	info, err := DecodeSetupInfo(res.Body)
	if err != nil {
		return nil, c.malformed(ctx, CodeTwoFactorReset, res, err)
	}

	if err := c.InvalidateSessions(ctx, uuid); err != nil {
		return nil, err
	}
	return info, nil
}

// GetTokens lists issued challenges of one method, a page at a time.
func (c *Client) GetTokens(ctx context.Context, method TwoFactorMethod, page int) (*Page[TwoFactorChallenge], error) {
	if !method.Valid() {
		return nil, invalidMethod(method)
	}

	res, err := c.transport.Get(ctx, fmt.Sprintf("2fa-tokens?page=%d&type=%s", max(page, 0), escape(string(method))))
	if err != nil {
		return nil, c.unreachable(ctx, CodeTwoFactorTokens, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeTwoFactorTokens, res)
	}

	p, err := decodePage[TwoFactorChallenge](res.Body, challengeMapping)
	if err != nil {
		return nil, c.malformed(ctx, CodeTwoFactorTokens, res, err)
	}
	return p, nil
}

// InvalidateSessions ends every session the user holds. A user with nothing
// to invalidate is not an error.
func (c *Client) InvalidateSessions(ctx context.Context, identifier string) error {
	res, err := c.transport.Delete(ctx, "session/all/"+url.PathEscape(identifier))
	if err != nil {
		return c.unreachable(ctx, CodeInvalidateSessions, err)
	}

	switch {
	case res.Status >= 200 && res.Status < 300:
		return nil
	case res.Status == http.StatusNotFound:
		c.log(ctx).Debug("no sessions to invalidate", "identifier", identifier)
		return nil
	default:
		return c.unexpected(ctx, CodeInvalidateSessions, res)
	}
}

func invalidMethod(m TwoFactorMethod) error {
	return &Error{Code: CodeInvalidTwoFactorMethod, Message: fmt.Sprintf("unknown method %q", m)}
}

func orMalformed(err error) error {
	if err != nil {
		return err
	}
	return serialx.ErrMalformed
}
