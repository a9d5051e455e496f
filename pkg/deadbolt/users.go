package deadbolt

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// reasonEmailExists is the service's reason for a duplicate address.
const reasonEmailExists = "email already exists"

// Status is the service health report.
type Status struct {
	Express  string `json:"express"`
	Database string `json:"database"`
	Status   string `json:"status"`
}

// Status fetches the service health report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	res, err := c.transport.Get(ctx, "")
	if err != nil {
		return nil, c.unreachable(ctx, CodeStatus, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeStatus, res)
	}

	st, err := serialx.Decode[Status](res.Body, nil)
	if err != nil || st == nil {
		return nil, c.malformed(ctx, CodeStatus, res, orMalformed(err))
	}
	return st, nil
}

// userFromBody accepts both a bare user and one wrapped as {"user": ...}.
func userFromBody(res *httpx.Result) (*User, error) {
	if wrapped, ok := res.Object()["user"]; ok {
		return DecodeUser(wrapped)
	}
	return DecodeUser(res.Body)
}

// GetUser fetches a user by numeric id, uuid, email or username. An unknown
// user yields (nil, nil).
func (c *Client) GetUser(ctx context.Context, identifier string) (*User, error) {
	res, err := c.transport.Get(ctx, "user/"+url.PathEscape(identifier))
	if err != nil {
		return nil, c.unreachable(ctx, CodeGetUser, err)
	}

	switch res.Status {
	case http.StatusOK:
		u, err := userFromBody(res)
		if err != nil {
			return nil, c.malformed(ctx, CodeGetUser, res, err)
		}
		return u, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, c.unexpected(ctx, CodeGetUser, res)
	}
}

// GetUsers runs a user search. No matches is an empty page, not an error.
func (c *Client) GetUsers(ctx context.Context, criteria SearchCriteria) (*Page[User], error) {
	res, err := c.transport.Get(ctx, "users?"+criteria.Encode())
	if err != nil {
		return nil, c.unreachable(ctx, CodeGetUsers, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeGetUsers, res)
	}

	p, err := decodePage[User](res.Body, userMapping)
	if err != nil {
		return nil, c.malformed(ctx, CodeGetUsers, res, err)
	}
	return p, nil
}

// AddUser creates an account. A duplicate address fails with
// ErrEmailAlreadyExists.
func (c *Client) AddUser(ctx context.Context, data NewUserData) (*User, error) {
	res, err := c.transport.Post(ctx, "user", data)
	if err != nil {
		return nil, c.unreachable(ctx, CodeAddUser, err)
	}

	if !res.OK() {
		reason := res.String("reason")
		if strings.EqualFold(strings.TrimSpace(reason), reasonEmailExists) {
			c.log(ctx).Info("user already exists", "email", data.Email)
			return nil, &Error{Code: CodeEmailAlreadyExists, Message: reason, Status: res.Status}
		}
		return nil, c.unexpected(ctx, CodeAddUser, res)
	}

	u, err := userFromBody(res)
	if err != nil || u == nil {
		return nil, c.malformed(ctx, CodeAddUser, res, orMalformed(err))
	}
	return u, nil
}

type updateUserRequest struct {
	UUID string      `json:"uuid"`
	User *UserUpdate `json:"user"`
}

// UpdateUser applies a partial update and returns the freshest snapshot of
// the user.
//
// The steps run strictly in order: core fields, then the membership set when
// Memberships is non-nil, then session invalidation when Active is
// explicitly false. The user is re-fetched only if no step returned it.
func (c *Client) UpdateUser(ctx context.Context, upd UserUpdate) (*User, error) {
	if upd.UUID == "" {
		return nil, &Error{Code: CodeMissingUUID, Message: "user update needs a uuid"}
	}

	res, err := c.transport.Put(ctx, "user", updateUserRequest{UUID: upd.UUID, User: &upd})
	if err != nil {
		return nil, c.unreachable(ctx, CodeUpdateUser, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeUpdateUser, res)
	}

	var snapshot *User
	if upd.Memberships != nil {
		if snapshot, err = c.UpdateMemberships(ctx, upd.UUID, upd.Memberships); err != nil {
			return nil, err
		}
	}

	if upd.Active != nil && !*upd.Active {
		if err := c.InvalidateSessions(ctx, upd.UUID); err != nil {
			return nil, err
		}
	}

	if snapshot == nil {
		if snapshot, err = c.GetUser(ctx, upd.UUID); err != nil {
			return nil, err
		}
		if snapshot == nil {
			return nil, &Error{Code: CodeUserNotFound, Message: upd.UUID}
		}
	}
	return snapshot, nil
}

type membershipRef struct {
	App  string `json:"app"`
	Role string `json:"role"`
}

type updateMembershipsRequest struct {
	Identifier  string          `json:"identifier"`
	Memberships []membershipRef `json:"memberships"`
}

// UpdateMemberships replaces the user's entire membership set.
func (c *Client) UpdateMemberships(ctx context.Context, identifier string, memberships []Membership) (*User, error) {
	refs := make([]membershipRef, 0, len(memberships))
	for _, m := range memberships {
		refs = append(refs, membershipRef{App: m.App, Role: m.Role})
	}

	res, err := c.transport.Put(ctx, "memberships", updateMembershipsRequest{Identifier: identifier, Memberships: refs})
	if err != nil {
		return nil, c.unreachable(ctx, CodeUpdateMemberships, err)
	}
	if !res.OK() {
		return nil, c.unexpected(ctx, CodeUpdateMemberships, res)
	}

	u, err := userFromBody(res)
	if err != nil || u == nil {
		return nil, c.malformed(ctx, CodeUpdateMemberships, res, orMalformed(err))
	}
	return u, nil
}

// AddRoles grants roles in app on top of the user's current memberships.
// It reads the user, merges locally and replaces the full set, so concurrent
// role changes to the same user can overwrite each other.
func (c *Client) AddRoles(ctx context.Context, identifier, app string, roles ...string) (*User, error) {
	return c.editRoles(ctx, identifier, func(u *User) { u.AddRoles(app, roles...) })
}

// RemoveRoles revokes roles in app, with the same read-modify-write caveat
// as AddRoles.
func (c *Client) RemoveRoles(ctx context.Context, identifier, app string, roles ...string) (*User, error) {
	return c.editRoles(ctx, identifier, func(u *User) { u.RemoveRoles(app, roles...) })
}

func (c *Client) editRoles(ctx context.Context, identifier string, edit func(*User)) (*User, error) {
	u, err := c.GetUser(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &Error{Code: CodeUserNotFound, Message: identifier}
	}

	before := len(u.Memberships)
	edit(u)
	if len(u.Memberships) == before {
		return u, nil
	}

	target := u.UUID
	if target == "" {
		target = identifier
	}
	return c.UpdateMemberships(ctx, target, u.Memberships)
}

// Purge deletes the user permanently.
func (c *Client) Purge(ctx context.Context, uuid string) error {
	res, err := c.transport.Delete(ctx, "user/"+url.PathEscape(uuid))
	if err != nil {
		return c.unreachable(ctx, CodePurgeUser, err)
	}
	if !res.OK() {
		return c.unexpected(ctx, CodePurgeUser, res)
	}
	return nil
}

type tokenRequest struct {
	Token string `json:"token"`
}

// ConfirmEmail redeems an email confirmation token. It reports only whether
// the token was accepted; a rejected token is false, not an error. Server
// faults are still errors.
func (c *Client) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	res, err := c.transport.Post(ctx, "confirm-email", tokenRequest{Token: token})
	if err != nil {
		return false, c.unreachable(ctx, CodeConfirmEmail, err)
	}

	switch {
	case res.OK():
		return res.String("result") == "ok", nil
	case res.Status >= 400 && res.Status < 500:
		c.log(ctx).Debug("email confirmation rejected", "status", res.Status, "reason", ErrorCode(res))
		return false, nil
	default:
		return false, c.unexpected(ctx, CodeConfirmEmail, res)
	}
}

// ForceConfirmEmail confirms the address of the user registered with email,
// using the user's stored confirmation token.
func (c *Client) ForceConfirmEmail(ctx context.Context, email string) (bool, error) {
	u, err := c.GetUser(ctx, email)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, &Error{Code: CodeUserNotFound, Message: email}
	}
	return c.ConfirmEmail(ctx, u.EmailConfirmToken)
}
