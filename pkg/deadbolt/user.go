package deadbolt

import (
	"slices"

	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// Membership grants a role within an application. ID, UserID and Created are
// only set on memberships read back from the service.
type Membership struct {
	ID      int64             `json:"id,omitempty"`
	UserID  int64             `json:"userId,omitempty"`
	Created serialx.Timestamp `json:"created,omitzero"`
	App     string            `json:"app"`
	Role    string            `json:"role"`
}

// Matches reports whether m grants role in app. An empty app matches any.
func (m Membership) Matches(role, app string) bool {
	return m.Role == role && (app == "" || m.App == app)
}

// User is a Deadbolt identity record.
type User struct {
	ID                       int64             `json:"id,omitempty"`
	UUID                     string            `json:"uuid,omitempty"`
	Username                 string            `json:"username,omitempty"`
	FirstName                string            `json:"firstName,omitempty"`
	LastName                 string            `json:"lastName,omitempty"`
	Email                    string            `json:"email,omitempty"`
	EmailConfirmed           serialx.Timestamp `json:"emailConfirmed,omitzero"`
	EmailConfirmToken        string            `json:"emailConfirmToken,omitempty"`
	EmailConfirmTokenExpires serialx.Timestamp `json:"emailConfirmTokenExpires,omitzero"`

	// Session is nil until authentication has completed.
	Session *Session `json:"session,omitempty"`

	Created      serialx.Timestamp `json:"created,omitzero"`
	LastActivity serialx.Timestamp `json:"lastActivity,omitzero"`

	// Active is nil when the service did not report it.
	Active *bool `json:"active,omitempty"`

	// Memberships holds at most one entry per (app, role) pair.
	Memberships []Membership    `json:"memberships"`
	TwoFactor   TwoFactorMethod `json:"twoFactor,omitempty"`
}

// AddRoles grants each role in app. Roles the user already holds in app are
// skipped, so the call is idempotent and preserves first-seen order.
func (u *User) AddRoles(app string, roles ...string) {
	for _, role := range roles {
		if u.hasExactRole(role, app) {
			continue
		}
		u.Memberships = append(u.Memberships, Membership{App: app, Role: role})
	}
}

// RemoveRoles revokes each role in app. An empty app revokes the roles in
// every app.
func (u *User) RemoveRoles(app string, roles ...string) {
	u.Memberships = slices.DeleteFunc(u.Memberships, func(m Membership) bool {
		return slices.ContainsFunc(roles, func(role string) bool {
			return m.Matches(role, app)
		})
	})
}

// HasRole reports whether the user holds role in app, or in any app when app
// is empty.
func (u *User) HasRole(role, app string) bool {
	return slices.ContainsFunc(u.Memberships, func(m Membership) bool {
		return m.Matches(role, app)
	})
}

// HasApp reports whether the user holds any role in app.
func (u *User) HasApp(app string) bool {
	return slices.ContainsFunc(u.Memberships, func(m Membership) bool {
		return m.App == app
	})
}

// Roles returns the user's roles in app, in membership order.
func (u *User) Roles(app string) []string {
	var roles []string
	for _, m := range u.Memberships {
		if m.App == app {
			roles = append(roles, m.Role)
		}
	}
	return roles
}

// IsActive treats an unreported active flag as active.
func (u *User) IsActive() bool {
	return u.Active == nil || *u.Active
}

// Authenticated reports whether the user carries a session.
func (u *User) Authenticated() bool {
	return u != nil && u.Session != nil
}

func (u *User) hasExactRole(role, app string) bool {
	return slices.ContainsFunc(u.Memberships, func(m Membership) bool {
		return m.Role == role && m.App == app
	})
}

var (
	membershipMapping = serialx.Mapping{
		"created": serialx.Time,
	}

	userMapping = serialx.Mapping{
		"created":                  serialx.Time,
		"lastActivity":             serialx.Time,
		"emailConfirmed":           serialx.Time,
		"emailConfirmTokenExpires": serialx.Time,
		"session":                  serialx.Object[Session](sessionMapping),
		"memberships":              serialx.List[Membership](membershipMapping),
	}
)

// DecodeUser builds a user from a wire payload. A null payload yields nil.
func DecodeUser(payload any) (*User, error) {
	return serialx.Decode[User](payload, userMapping)
}

// NewUserData is the payload for creating an account.
type NewUserData struct {
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	FirstName string          `json:"firstName,omitempty"`
	LastName  string          `json:"lastName,omitempty"`
	TwoFactor TwoFactorMethod `json:"twoFactor,omitempty"`
}

// UserUpdate is a partial user. Nil fields are left unchanged by the service.
type UserUpdate struct {
	// UUID selects the user and is required.
	UUID string `json:"-"`

	Username  *string          `json:"username,omitempty"`
	FirstName *string          `json:"firstName,omitempty"`
	LastName  *string          `json:"lastName,omitempty"`
	Email     *string          `json:"email,omitempty"`
	TwoFactor *TwoFactorMethod `json:"twoFactor,omitempty"`

	// Active set to false also ends every session the user holds.
	Active *bool `json:"active,omitempty"`

	// Memberships, when non-nil, replaces the user's full membership set.
	Memberships []Membership `json:"-"`
}

// Credentials identify a login attempt. Identifier is a username or email.
// App optionally scopes the session to an application.
type Credentials struct {
	Identifier string
	Password   string
	App        string
}
