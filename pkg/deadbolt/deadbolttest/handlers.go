package deadbolttest

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/deadbolt/pkg/cryptox"
	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var resultOK = map[string]string{"result": "ok"}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, deadbolt.Status{Express: "ok", Database: "ok", Status: "ok"})
}

// ============================================================================
// Sessions
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	App      string `json:"app"`
}

type loginResponse struct {
	User          deadbolt.User                `json:"user"`
	TwoFactorData *deadbolt.TwoFactorChallenge `json:"twoFactorData,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(req.Username)
	if rec == nil || cryptox.VerifyPassword(req.Password, rec.passwordHash) != nil {
		httpx.WriteReason(w, http.StatusUnprocessableEntity, "Invalid credentials")
		return
	}
	if !rec.user.IsActive() {
		httpx.WriteReason(w, http.StatusUnprocessableEntity, "User is inactive")
		return
	}

	if method := rec.user.TwoFactor; method.Valid() {
		challenge, err := s.issueChallenge(rec, method)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, loginResponse{User: s.render(rec, nil), TwoFactorData: challenge})
		return
	}

	sess, err := s.startSession(rec)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{User: s.render(rec, sess)})
}

func (s *Server) handleUserBySession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, found := s.sessions[r.PathValue("token")]
	if !found || !s.now().Before(sess.session.Expires.Time) {
		httpx.WriteReason(w, http.StatusNotFound, "Session not found")
		return
	}

	sess.owner.user.LastActivity = serialx.NewTimestamp(s.now())
	httpx.WriteJSON(w, http.StatusOK, s.render(sess.owner, &sess.session))
}

func (s *Server) handleInvalidateSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(r.PathValue("identifier"))
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}
	n := s.dropSessions(rec)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"result": "ok", "invalidated": n})
}

// ============================================================================
// Two-factor
// ============================================================================

type twoFactorRequest struct {
	Type       deadbolt.TwoFactorMethod `json:"type"`
	Identifier string                   `json:"identifier"`
	Data       struct {
		Token     string `json:"token"`
		UserToken string `json:"userToken"`
	} `json:"data"`
}

// readTwoFactor decodes a two-factor request and resolves its user, writing
// the failure response itself when either step fails.
func (s *Server) readTwoFactor(w http.ResponseWriter, r *http.Request) (twoFactorRequest, *record, bool) {
	var req twoFactorRequest
	if err := httpx.ReadJSON(r, &req); err != nil || !req.Type.Valid() {
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid 2FA type")
		return req, nil, false
	}
	rec := s.find(req.Identifier)
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return req, nil, false
	}
	return req, rec, true
}

func (s *Server) handleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, rec, valid := s.readTwoFactor(w, r)
	if !valid {
		return
	}

	if req.Type.Delivered() {
		rec.user.TwoFactor = req.Type
		httpx.WriteJSON(w, http.StatusOK, deadbolt.TwoFactorSetupInfo{
			Type:    req.Type,
			Message: "Verification codes will be sent by " + string(req.Type),
		})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Deadbolt",
		AccountName: rec.user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	userToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	rec.totpSecret = key.Secret()
	rec.totpUserToken = userToken
	rec.totpConfirmed = false

	confirmed := false
	httpx.WriteJSON(w, http.StatusOK, deadbolt.TwoFactorSetupInfo{
		Type:       deadbolt.TwoFactorTOTP,
		Confirmed:  &confirmed,
		Expires:    serialx.NewTimestamp(s.now().Add(DefaultChallengeTTL)),
		UserToken:  userToken,
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	})
}

func (s *Server) handleRequestTwoFactor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, rec, valid := s.readTwoFactor(w, r)
	if !valid {
		return
	}

	challenge, err := s.issueChallenge(rec, req.Type)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, challenge)
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, rec, valid := s.readTwoFactor(w, r)
	if !valid {
		return
	}

	if !s.verifyCode(rec, req) {
		httpx.WriteReason(w, http.StatusUnprocessableEntity, "Verification failed")
		return
	}

	sess, err := s.startSession(rec)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": s.render(rec, sess)})
}

// verifyCode redeems either a login challenge or a pending authenticator
// enrolment. Failed attempts count against the challenge.
func (s *Server) verifyCode(rec *record, req twoFactorRequest) bool {
	now := s.now()
	code := strings.TrimSpace(req.Data.Token)

	if req.Type == deadbolt.TwoFactorTOTP && rec.totpUserToken != "" && req.Data.UserToken == rec.totpUserToken {
		if !s.validTOTP(rec, code) {
			return false
		}
		rec.totpConfirmed = true
		rec.totpUserToken = ""
		rec.user.TwoFactor = deadbolt.TwoFactorTOTP
		return true
	}

	c := s.challenge(rec, req.Data.UserToken, req.Type)
	if c == nil || !c.challenge.Redeemable(now) {
		return false
	}

	var valid bool
	if req.Type == deadbolt.TwoFactorTOTP {
		valid = rec.totpConfirmed && s.validTOTP(rec, code)
	} else {
		valid = code != "" && code == c.challenge.Token
	}

	if !valid {
		c.challenge.Attempt++
		return false
	}
	c.challenge.Used = true
	return true
}

func (s *Server) validTOTP(rec *record, code string) bool {
	valid, err := totp.ValidateCustom(code, rec.totpSecret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	method, err := deadbolt.ParseTwoFactorMethod(r.URL.Query().Get("type"))
	if err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid 2FA type")
		return
	}
	page := atoiOr(r.URL.Query().Get("page"), 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []deadbolt.TwoFactorChallenge
	for _, c := range s.challenges {
		if c.challenge.Type == method {
			items = append(items, c.challenge)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, paginate(items, page, perPage))
}

// ============================================================================
// Users
// ============================================================================

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(r.PathValue("identifier"))
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.render(rec, nil))
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(r.PathValue("identifier"))
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}
	s.remove(rec)
	httpx.WriteJSON(w, http.StatusOK, resultOK)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req deadbolt.NewUserData
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httpx.WriteReason(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if req.TwoFactor != deadbolt.TwoFactorNone && !req.TwoFactor.Valid() {
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid 2FA type")
		return
	}

	hash, err := s.params.Hash(req.Password)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	confirmToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(req.Email, nil) {
		httpx.WriteReason(w, http.StatusBadRequest, "Email already exists")
		return
	}

	now := s.now()
	active := true
	s.nextID++
	rec := &record{
		passwordHash: hash,
		user: deadbolt.User{
			ID:                       s.nextID,
			UUID:                     uuid.NewString(),
			Username:                 req.Username,
			FirstName:                req.FirstName,
			LastName:                 req.LastName,
			Email:                    req.Email,
			EmailConfirmToken:        confirmToken,
			EmailConfirmTokenExpires: serialx.NewTimestamp(now.Add(DefaultConfirmTTL)),
			Created:                  serialx.NewTimestamp(now),
			Active:                   &active,
			Memberships:              []deadbolt.Membership{},
			TwoFactor:                req.TwoFactor,
		},
	}
	s.users = append(s.users, rec)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": s.render(rec, nil)})
}

type updateUserRequest struct {
	UUID string              `json:"uuid"`
	User deadbolt.UserUpdate `json:"user"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(req.UUID)
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}

	upd := req.User
	if upd.Email != nil && s.emailTaken(*upd.Email, rec) {
		httpx.WriteReason(w, http.StatusBadRequest, "Email already exists")
		return
	}
	if upd.TwoFactor != nil && *upd.TwoFactor != deadbolt.TwoFactorNone && !upd.TwoFactor.Valid() {
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid 2FA type")
		return
	}

	u := &rec.user
	set(&u.Username, upd.Username)
	set(&u.FirstName, upd.FirstName)
	set(&u.LastName, upd.LastName)
	set(&u.Email, upd.Email)
	set(&u.TwoFactor, upd.TwoFactor)
	if upd.Active != nil {
		active := *upd.Active
		u.Active = &active
	}

	httpx.WriteJSON(w, http.StatusOK, resultOK)
}

type membershipsRequest struct {
	Identifier  string                `json:"identifier"`
	Memberships []deadbolt.Membership `json:"memberships"`
}

func (s *Server) handleUpdateMemberships(w http.ResponseWriter, r *http.Request) {
	var req membershipsRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(req.Identifier)
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}

	now := serialx.NewTimestamp(s.now())
	next := make([]deadbolt.Membership, 0, len(req.Memberships))
	for _, m := range req.Memberships {
		if m.App == "" || m.Role == "" {
			httpx.WriteReason(w, http.StatusBadRequest, "Membership needs an app and a role")
			return
		}
		dup := slices.ContainsFunc(next, func(o deadbolt.Membership) bool {
			return o.App == m.App && o.Role == m.Role
		})
		if dup {
			continue
		}
		s.nextID++
		next = append(next, deadbolt.Membership{
			ID:      s.nextID,
			UserID:  rec.user.ID,
			Created: now,
			App:     m.App,
			Role:    m.Role,
		})
	}
	rec.user.Memberships = next

	httpx.WriteJSON(w, http.StatusOK, s.render(rec, nil))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	criteria, err := deadbolt.ParseSearchCriteria(r.URL.Query())
	if err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid search")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found []deadbolt.User
	for _, rec := range s.users {
		if matches(&rec.user, criteria) {
			found = append(found, s.render(rec, nil))
		}
	}

	order := criteria.OrderBy
	if len(order) == 0 {
		order = []deadbolt.OrderBy{deadbolt.OrderByEmailAsc}
	}
	slices.SortStableFunc(found, func(a, b deadbolt.User) int {
		return compareUsers(&a, &b, order)
	})

	size := criteria.PerPage
	if size <= 0 {
		size = perPage
	}
	httpx.WriteJSON(w, http.StatusOK, paginate(found, max(criteria.Page, 0), size))
}

// ============================================================================
// Email and passwords
// ============================================================================

type tokenRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.ReadJSON(r, &req); err != nil || req.Token == "" {
		httpx.WriteReason(w, http.StatusBadRequest, "Missing token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, rec := range s.users {
		u := &rec.user
		if u.EmailConfirmToken != req.Token {
			continue
		}
		if u.EmailConfirmTokenExpires.Valid && !now.Before(u.EmailConfirmTokenExpires.Time) {
			break
		}
		if !u.EmailConfirmed.Valid {
			u.EmailConfirmed = serialx.NewTimestamp(now)
		}
		httpx.WriteJSON(w, http.StatusOK, resultOK)
		return
	}
	httpx.WriteReason(w, http.StatusNotFound, "Invalid token")
}

type credentialRequest struct {
	Identifier string `json:"identifier"`
	UUID       string `json:"uuid"`
	Password   string `json:"password"`
}

func (s *Server) handleResetToken(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(req.Identifier)
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "Address not found")
		return
	}
	s.resetTokens[token] = &resetRecord{owner: rec, expires: s.now().Add(DefaultResetTTL)}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"token": token, "uuid": rec.user.UUID})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.ReadJSON(r, &req); err != nil || req.Password == "" {
		httpx.WriteReason(w, http.StatusBadRequest, "Missing password")
		return
	}

	hash, err := s.params.Hash(req.Password)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reset, found := s.resetTokens[req.Token]
	switch {
	case !found:
		httpx.WriteReason(w, http.StatusBadRequest, "Invalid token")
		return
	case reset.used:
		httpx.WriteReason(w, http.StatusBadRequest, "Token already used")
		return
	case !s.now().Before(reset.expires):
		httpx.WriteReason(w, http.StatusBadRequest, "Token expired")
		return
	}

	reset.used = true
	reset.owner.passwordHash = hash
	s.dropSessions(reset.owner)

	httpx.WriteJSON(w, http.StatusOK, resultOK)
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteReason(w, http.StatusBadRequest, "Malformed request")
		return
	}

	s.mu.Lock()
	rec := s.find(req.Identifier)
	var hash string
	if rec != nil {
		hash = rec.passwordHash
	}
	s.mu.Unlock()

	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}
	verified := cryptox.VerifyPassword(req.Password, hash) == nil
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := httpx.ReadJSON(r, &req); err != nil || req.Password == "" {
		httpx.WriteReason(w, http.StatusBadRequest, "Missing password")
		return
	}

	hash, err := s.params.Hash(req.Password)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(req.UUID)
	if rec == nil {
		httpx.WriteReason(w, http.StatusNotFound, "User not found")
		return
	}
	rec.passwordHash = hash

	httpx.WriteJSON(w, http.StatusOK, resultOK)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slogx.FromContext(r.Context(), s.logger).Error("deadbolttest handler failed", "err", err)
	httpx.WriteReason(w, http.StatusInternalServerError, "Internal server error")
}

type page[T any] struct {
	Items       []T  `json:"items"`
	CurrentPage int  `json:"currentPage"`
	PerPage     int  `json:"perPage"`
	Total       int  `json:"total"`
	HasMore     bool `json:"hasMore"`
}

func paginate[T any](items []T, current, size int) page[T] {
	start := min(current*size, len(items))
	end := min(start+size, len(items))

	out := make([]T, end-start)
	copy(out, items[start:end])

	return page[T]{
		Items:       out,
		CurrentPage: current,
		PerPage:     size,
		Total:       len(items),
		HasMore:     end < len(items),
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func atoiOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
