package deadbolttest

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/cryptox"
	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// Every helper here expects s.mu to be held.

// find resolves an identifier the way the service does: numeric id, uuid,
// email, then username.
func (s *Server) find(identifier string) *record {
	identifier = strings.TrimSpace(identifier)
	kind := deadbolt.ClassifyIdentifier(identifier)

	for _, rec := range s.users {
		u := &rec.user
		switch kind {
		case deadbolt.IdentifierID:
			if strconv.FormatInt(u.ID, 10) == identifier {
				return rec
			}
		case deadbolt.IdentifierUUID:
			if strings.EqualFold(u.UUID, identifier) {
				return rec
			}
		case deadbolt.IdentifierEmail:
			if strings.EqualFold(u.Email, identifier) {
				return rec
			}
		default:
			if u.Username == identifier {
				return rec
			}
		}
	}
	return nil
}

func (s *Server) emailTaken(email string, except *record) bool {
	return slices.ContainsFunc(s.users, func(rec *record) bool {
		return rec != except && strings.EqualFold(rec.user.Email, email)
	})
}

func (s *Server) remove(rec *record) {
	s.users = slices.DeleteFunc(s.users, func(r *record) bool { return r == rec })
	s.dropSessions(rec)
	s.challenges = slices.DeleteFunc(s.challenges, func(c *challengeRecord) bool { return c.owner == rec })
	for token, reset := range s.resetTokens {
		if reset.owner == rec {
			delete(s.resetTokens, token)
		}
	}
}

func (s *Server) dropSessions(rec *record) int {
	n := 0
	for token, sess := range s.sessions {
		if sess.owner == rec {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// render returns the wire view of a user, optionally with a session.
func (s *Server) render(rec *record, session *deadbolt.Session) deadbolt.User {
	u := rec.user
	u.Memberships = slices.Clone(rec.user.Memberships)
	if u.Memberships == nil {
		u.Memberships = []deadbolt.Membership{}
	}
	if rec.user.Active != nil {
		active := *rec.user.Active
		u.Active = &active
	}
	if session != nil {
		sess := *session
		u.Session = &sess
	}
	return u
}

func (s *Server) startSession(rec *record) (*deadbolt.Session, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.nextID++
	sess := &sessionRecord{
		owner: rec,
		session: deadbolt.Session{
			ID:      s.nextID,
			UserID:  rec.user.ID,
			Created: serialx.NewTimestamp(now),
			Expires: serialx.NewTimestamp(now.Add(s.sessionTTL)),
			Token:   token,
		},
	}
	s.sessions[token] = sess
	rec.user.LastActivity = serialx.NewTimestamp(now)
	return &sess.session, nil
}

// issueChallenge creates a challenge. Delivered methods carry their code in
// Token, standing in for the email or SMS the service would send.
func (s *Server) issueChallenge(rec *record, method deadbolt.TwoFactorMethod) (*deadbolt.TwoFactorChallenge, error) {
	userToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}

	var code string
	if method.Delivered() {
		if code, err = cryptox.GenerateCode(6); err != nil {
			return nil, err
		}
	}

	c := &challengeRecord{
		owner: rec,
		challenge: deadbolt.TwoFactorChallenge{
			Type:      method,
			Expires:   serialx.NewTimestamp(s.now().Add(DefaultChallengeTTL)),
			Token:     code,
			UserToken: userToken,
		},
	}
	s.challenges = append(s.challenges, c)

	out := c.challenge
	return &out, nil
}

func (s *Server) challenge(rec *record, userToken string, method deadbolt.TwoFactorMethod) *challengeRecord {
	for _, c := range s.challenges {
		if c.owner == rec && c.challenge.UserToken == userToken && c.challenge.Type == method {
			return c
		}
	}
	return nil
}

// matches applies the search filters to one user.
func matches(u *deadbolt.User, c deadbolt.SearchCriteria) bool {
	if c.Q != "" {
		q := strings.ToLower(c.Q)
		hit := slices.ContainsFunc([]string{u.Username, u.Email, u.FirstName, u.LastName}, func(field string) bool {
			return strings.Contains(strings.ToLower(field), q)
		})
		if !hit {
			return false
		}
	}
	if c.Email != "" && !strings.EqualFold(u.Email, c.Email) {
		return false
	}
	if len(c.UUIDs) > 0 && !slices.Contains(c.UUIDs, u.UUID) {
		return false
	}
	for _, m := range c.Membership {
		if !u.HasRole(m.Role, m.App) {
			return false
		}
	}
	return true
}

func compareUsers(a, b *deadbolt.User, order []deadbolt.OrderBy) int {
	for _, o := range order {
		var n int
		switch o.Key() {
		case "email":
			n = strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
		case "first-name":
			n = strings.Compare(a.FirstName, b.FirstName)
		case "last-name":
			n = strings.Compare(a.LastName, b.LastName)
		case "username":
			n = strings.Compare(a.Username, b.Username)
		case "created":
			n = compareTime(a.Created, b.Created)
		case "last-activity":
			n = compareTime(a.LastActivity, b.LastActivity)
		}
		if o.Desc() {
			n = -n
		}
		if n != 0 {
			return n
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareTime(a, b serialx.Timestamp) int {
	var at, bt time.Time
	if a.Valid {
		at = a.Time
	}
	if b.Valid {
		bt = b.Time
	}
	return at.Compare(bt)
}
