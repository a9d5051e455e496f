// Package deadbolttest runs an in-memory Deadbolt service for tests.
//
// The server speaks the same JSON contract as the real service closely
// enough to exercise every client operation: accounts, sessions, two-factor
// challenges, password resets and user search. State lives in memory and is
// discarded when the test ends.
//
//	srv := deadbolttest.NewServer(t)
//	client := srv.Client(t)
//	user, err := client.AddUser(ctx, deadbolt.NewUserData{...})
package deadbolttest

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/cryptox"
	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultChallengeTTL = 5 * time.Minute
	DefaultResetTTL     = time.Hour
	DefaultConfirmTTL   = 24 * time.Hour

	perPage = deadbolt.DefaultPerPage
)

// Server is an in-memory Deadbolt service.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	clock  func() time.Time
	offset time.Duration
	logger *slog.Logger
	params cryptox.Params

	sessionTTL time.Duration

	nextID      int64
	users       []*record
	sessions    map[string]*sessionRecord
	challenges  []*challengeRecord
	resetTokens map[string]*resetRecord
	faults      map[string]int
	requests    []string

	rateLimit httpx.RateLimitConfig
}

type record struct {
	user         deadbolt.User
	passwordHash string

	// Pending authenticator enrolment.
	totpSecret    string
	totpUserToken string
	totpConfirmed bool
}

type sessionRecord struct {
	owner   *record
	session deadbolt.Session
}

type challengeRecord struct {
	owner     *record
	challenge deadbolt.TwoFactorChallenge
}

type resetRecord struct {
	owner   *record
	expires time.Time
	used    bool
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the server's time source. Advance shifts it further.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.clock = now }
}

// WithLogger logs every request to l.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSessionTTL sets how long issued sessions last.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) { s.sessionTTL = d }
}

// WithRateLimit rejects requests over cfg per client address with 429.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// NewServer starts a server that is closed when tb ends.
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	s := &Server{
		clock:       time.Now,
		logger:      slogx.Discard(),
		params:      cryptox.FastParams,
		sessionTTL:  DefaultSessionTTL,
		sessions:    make(map[string]*sessionRecord),
		resetTokens: make(map[string]*resetRecord),
		faults:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(s.handler())
	tb.Cleanup(s.Close)
	return s
}

// Client returns a client for this server.
func (s *Server) Client(tb testing.TB, opts ...deadbolt.Option) *deadbolt.Client {
	tb.Helper()

	c, err := deadbolt.New(s.URL+"/", opts...)
	require.NoError(tb, err)
	return c
}

// Now is the server's current time.
func (s *Server) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Advance moves the server clock forward by d.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += d
}

// InjectFault makes every request matching method and path answer status
// until ClearFaults is called. Path is relative to the service root, e.g.
// "session" or "user/42".
func (s *Server) InjectFault(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(method, path)] = status
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Requests lists the requests served so far as "METHOD /path".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// ConfirmToken returns the pending email confirmation token of a user.
func (s *Server) ConfirmToken(identifier string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.find(identifier); rec != nil {
		return rec.user.EmailConfirmToken
	}
	return ""
}

// SessionCount reports how many sessions the user holds.
func (s *Server) SessionCount(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(identifier)
	n := 0
	for _, sess := range s.sessions {
		if rec != nil && sess.owner == rec {
			n++
		}
	}
	return n
}

func faultKey(method, path string) string {
	return strings.ToUpper(method) + " /" + strings.TrimPrefix(path, "/")
}

func (s *Server) now() time.Time {
	return s.clock().Add(s.offset)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleStatus)

	mux.HandleFunc("POST /session", s.handleLogin)
	mux.HandleFunc("GET /user-by-session/{token}", s.handleUserBySession)
	mux.HandleFunc("DELETE /session/all/{identifier}", s.handleInvalidateSessions)

	mux.HandleFunc("POST /setup-2fa", s.handleSetupTwoFactor)
	mux.HandleFunc("POST /request-2fa", s.handleRequestTwoFactor)
	mux.HandleFunc("POST /verify-2fa", s.handleVerifyTwoFactor)
	mux.HandleFunc("GET /2fa-tokens", s.handleTokens)

	mux.HandleFunc("GET /user/{identifier}", s.handleGetUser)
	mux.HandleFunc("DELETE /user/{identifier}", s.handlePurge)
	mux.HandleFunc("POST /user", s.handleAddUser)
	mux.HandleFunc("PUT /user", s.handleUpdateUser)
	mux.HandleFunc("PUT /memberships", s.handleUpdateMemberships)
	mux.HandleFunc("GET /users", s.handleSearch)

	mux.HandleFunc("POST /confirm-email", s.handleConfirmEmail)
	mux.HandleFunc("POST /reset-password-token", s.handleResetToken)
	mux.HandleFunc("POST /reset-password", s.handleResetPassword)
	mux.HandleFunc("POST /verify-password", s.handleVerifyPassword)
	mux.HandleFunc("PUT /password", s.handleChangePassword)

	return httpx.Chain(mux,
		slogx.HTTPMiddleware(s.logger),
		httpx.RateLimitMiddleware(s.rateLimit, httpx.IPKeyExtractor),
		s.faultMiddleware,
	)
}

func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := faultKey(r.Method, r.URL.Path)

		s.mu.Lock()
		s.requests = append(s.requests, key)
		status, faulty := s.faults[key]
		s.mu.Unlock()

		if faulty {
			httpx.WriteReason(w, status, "Injected fault")
			return
		}
		next.ServeHTTP(w, r)
	})
}
