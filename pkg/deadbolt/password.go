package deadbolt

import (
	"context"
	"net/http"
	"strings"
)

// BasicResult is a success flag with a reason slug on failure.
type BasicResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// PasswordResetResult carries the reset token on success.
type PasswordResetResult struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	UUID    string `json:"uuid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

// RequestPasswordReset asks for a reset token. An unknown address (a 404, or
// a 4xx whose reason is a not-found code) is a failed result with no token.
// Server faults are errors.
func (c *Client) RequestPasswordReset(ctx context.Context, identifier string) (*PasswordResetResult, error) {
	res, err := c.transport.Post(ctx, "reset-password-token", identifierRequest{Identifier: identifier})
	if err != nil {
		return nil, c.unreachable(ctx, CodeRequestPasswordReset, err)
	}

	if res.OK() {
		return &PasswordResetResult{
			Success: true,
			Token:   res.String("token"),
			UUID:    res.String("uuid"),
		}, nil
	}

	code := ErrorCode(res)
	clientError := res.Status >= http.StatusBadRequest && res.Status < http.StatusInternalServerError
	if clientError && (res.Status == http.StatusNotFound || strings.Contains(code, "not-found")) {
		if code == CodeUnknown {
			code = ReasonAddressNotFound
		}
		c.log(ctx).Debug("password reset for unknown address", "reason", code)
		return &PasswordResetResult{Success: false, Reason: code}, nil
	}

	if code == CodeUnknown {
		code = CodeRequestPasswordReset
	}
	return nil, c.unexpected(ctx, code, res)
}

type passwordResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// PasswordReset redeems a reset token. A spent or expired token is a failed
// result with a reason.
func (c *Client) PasswordReset(ctx context.Context, token, password string) (*BasicResult, error) {
	res, err := c.transport.Post(ctx, "reset-password", passwordResetRequest{Token: token, Password: password})
	if err != nil {
		return nil, c.unreachable(ctx, CodePasswordReset, err)
	}

	switch {
	case res.OK():
		return &BasicResult{Success: true}, nil
	case res.Status >= http.StatusInternalServerError:
		return nil, c.unexpected(ctx, CodePasswordReset, res)
	default:
		reason := reasonOr(res, CodePasswordReset)
		c.log(ctx).Debug("password reset rejected", "reason", reason)
		return &BasicResult{Success: false, Reason: reason}, nil
	}
}

type credentialRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// VerifyPassword checks a password. An unknown user is reported as not
// verified.
func (c *Client) VerifyPassword(ctx context.Context, identifier, password string) (bool, error) {
	res, err := c.transport.Post(ctx, "verify-password", credentialRequest{Identifier: identifier, Password: password})
	if err != nil {
		return false, c.unreachable(ctx, CodeVerifyPassword, err)
	}

	switch res.Status {
	case http.StatusOK:
		verified, _ := res.Field("verified").(bool)
		return verified, nil
	case http.StatusNotFound:
		c.log(ctx).Debug("verify password for unknown user", "identifier", identifier)
		return false, nil
	default:
		return false, c.unexpected(ctx, CodeVerifyPassword, res)
	}
}

type changePasswordRequest struct {
	UUID     string `json:"uuid"`
	Password string `json:"password"`
}

// ChangePassword sets a new password without checking the old one.
func (c *Client) ChangePassword(ctx context.Context, uuid, password string) (*BasicResult, error) {
	res, err := c.transport.Put(ctx, "password", changePasswordRequest{UUID: uuid, Password: password})
	if err != nil {
		return nil, c.unreachable(ctx, CodeChangePassword, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeChangePassword, res)
	}
	return &BasicResult{Success: true}, nil
}

// VerifyAndChangePassword changes the password only if current is correct.
// A wrong current password is a failed result and no change is attempted.
func (c *Client) VerifyAndChangePassword(ctx context.Context, uuid, current, next string) (*BasicResult, error) {
	ok, err := c.VerifyPassword(ctx, uuid, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &BasicResult{Success: false, Reason: ReasonIncorrectPassword}, nil
	}
	return c.ChangePassword(ctx, uuid, next)
}
