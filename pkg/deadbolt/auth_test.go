package deadbolt_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt/deadbolttest"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	ctx := context.Background()
	alice := addUser(t, c, "alice", deadbolt.TwoFactorNone)

	t.Run("valid credentials", func(t *testing.T) {
		res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "alice", Password: password})
		require.NoError(t, err)
		require.True(t, res.Success)
		require.False(t, res.NeedsTwoFactor())
		require.Equal(t, deadbolt.Authenticated, res.State())
		require.Equal(t, alice.UUID, res.User.UUID)
		require.NotNil(t, res.User.Session)
		require.True(t, res.User.Session.Valid())
	})

	t.Run("by email", func(t *testing.T) {
		res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "alice@example.com", Password: password, App: "bar"})
		require.NoError(t, err)
		require.True(t, res.User.Authenticated())
	})

	t.Run("wrong password", func(t *testing.T) {
		res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "alice", Password: "nope"})
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Nil(t, res.User)
		require.Equal(t, deadbolt.ReasonInvalidCredentials, res.Reason)
		require.Equal(t, deadbolt.LoginFailed, res.State())
	})

	t.Run("unknown user", func(t *testing.T) {
		res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "mallory", Password: password})
		require.NoError(t, err)
		require.False(t, res.Success)
		require.NotEmpty(t, res.Reason)
	})

	t.Run("server fault", func(t *testing.T) {
		srv.InjectFault(http.MethodPost, "session", http.StatusInternalServerError)
		t.Cleanup(srv.ClearFaults)

		_, err := c.Login(ctx, deadbolt.Credentials{Identifier: "alice", Password: password})
		requireCode(t, err, deadbolt.CodeLogin, http.StatusInternalServerError)
	})
}

func TestEmailTwoFactorLogin(t *testing.T) {
	t.Parallel()

	_, c := setup(t)
	ctx := context.Background()
	bob := addUser(t, c, "bob", deadbolt.TwoFactorEmail)

	res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "bob", Password: password})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.NeedsTwoFactor())
	require.Equal(t, deadbolt.TwoFactorPending, res.State())
	require.Equal(t, deadbolt.TwoFactorEmail, res.Challenge.Type)
	require.NotEmpty(t, res.Challenge.Token)
	require.NotEmpty(t, res.Challenge.UserToken)
	require.NotNil(t, res.User)
	require.Nil(t, res.User.Session)

	wrong, err := c.VerifyTwoFactor(ctx, bob.UUID, "not-the-code", res.Challenge.UserToken, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	require.False(t, wrong.Success)
	require.Contains(t, wrong.Reason, deadbolt.ReasonVerificationFailed)
	require.Equal(t, deadbolt.VerificationFailed, wrong.State())

	ok, err := c.VerifyTwoFactor(ctx, bob.UUID, res.Challenge.Token, res.Challenge.UserToken, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	require.True(t, ok.Success)
	require.False(t, ok.NeedsTwoFactor())
	require.Equal(t, deadbolt.Authenticated, ok.State())
	require.NotNil(t, ok.User.Session)

	again, err := c.VerifyTwoFactor(ctx, bob.UUID, res.Challenge.Token, res.Challenge.UserToken, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	require.False(t, again.Success, "a challenge is redeemable once")
}

func TestTOTPEnrolment(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	ctx := context.Background()
	carol := addUser(t, c, "carol", deadbolt.TwoFactorNone)

	info, err := c.SetupTwoFactor(ctx, carol.UUID, deadbolt.TwoFactorTOTP)
	require.NoError(t, err)
	require.NotEmpty(t, info.Secret)
	require.NotEmpty(t, info.OTPAuthURL)
	require.NotEmpty(t, info.UserToken)
	require.NotNil(t, info.Confirmed)
	require.False(t, *info.Confirmed)
	require.Empty(t, info.Message)

	key, err := info.Key()
	require.NoError(t, err)
	require.Equal(t, "carol@example.com", key.AccountName())

	code, err := info.Code(srv.Now())
	require.NoError(t, err)

	confirmed, err := c.VerifyTwoFactor(ctx, carol.UUID, code, info.UserToken, deadbolt.TwoFactorTOTP)
	require.NoError(t, err)
	require.True(t, confirmed.Success)

	res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "carol", Password: password})
	require.NoError(t, err)
	require.True(t, res.NeedsTwoFactor())
	require.Equal(t, deadbolt.TwoFactorTOTP, res.Challenge.Type)
	require.Empty(t, res.Challenge.Token)

	code, err = info.Code(srv.Now())
	require.NoError(t, err)
	done, err := c.VerifyTwoFactor(ctx, "carol", code, res.Challenge.UserToken, deadbolt.TwoFactorTOTP)
	require.NoError(t, err)
	require.True(t, done.User.Authenticated())
}

func TestSetupDeliveredTwoFactor(t *testing.T) {
	t.Parallel()

	_, c := setup(t)
	ctx := context.Background()
	dave := addUser(t, c, "dave", deadbolt.TwoFactorNone)

	info, err := c.SetupTwoFactor(ctx, dave.UUID, deadbolt.TwoFactorSMS)
	require.NoError(t, err)
	require.NotEmpty(t, info.Message)
	require.Empty(t, info.Secret)
	require.Empty(t, info.OTPAuthURL)
	require.Empty(t, info.UserToken)
	require.Nil(t, info.Confirmed)

	u, err := c.GetUser(ctx, dave.UUID)
	require.NoError(t, err)
	require.Equal(t, deadbolt.TwoFactorSMS, u.TwoFactor)

	_, err = c.SetupTwoFactor(ctx, dave.UUID, "fax")
	require.ErrorIs(t, err, deadbolt.NewError(deadbolt.CodeInvalidTwoFactorMethod, ""))
}

func TestRequestTwoFactorAndTokens(t *testing.T) {
	t.Parallel()

	_, c := setup(t)
	ctx := context.Background()
	erin := addUser(t, c, "erin", deadbolt.TwoFactorEmail)

	first, err := c.RequestTwoFactor(ctx, erin.UUID, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	second, err := c.RequestTwoFactor(ctx, erin.UUID, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	require.NotEqual(t, first.UserToken, second.UserToken)
	require.True(t, second.Redeemable(time.Now()))

	_, err = c.RequestTwoFactor(ctx, "nobody", deadbolt.TwoFactorEmail)
	requireCode(t, err, deadbolt.CodeTwoFactorRequest, http.StatusNotFound)

	page, err := c.GetTokens(ctx, deadbolt.TwoFactorEmail, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.Len())
	require.False(t, page.HasMore())

	sms, err := c.GetTokens(ctx, deadbolt.TwoFactorSMS, 0)
	require.NoError(t, err)
	require.Zero(t, sms.Len())
	require.NotNil(t, sms.Items)
}

func TestCheckSession(t *testing.T) {
	t.Parallel()

	srv, c := setup(t, deadbolttest.WithSessionTTL(time.Hour))
	ctx := context.Background()
	frank := addUser(t, c, "frank", deadbolt.TwoFactorNone)

	login, err := c.Login(ctx, deadbolt.Credentials{Identifier: "frank", Password: password})
	require.NoError(t, err)
	token := login.User.Session.Token

	res, err := c.CheckSession(ctx, token)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, frank.UUID, res.User.UUID)
	require.Equal(t, token, res.User.Session.Token)

	unknown, err := c.CheckSession(ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, unknown.Success)
	require.Equal(t, deadbolt.ReasonSessionNotFound, unknown.Reason)

	later := time.Now().Add(2 * time.Hour)

	t.Run("service decides by default", func(t *testing.T) {
		res, err := c.CheckSession(ctx, token)
		require.NoError(t, err)
		require.True(t, res.Success)
		require.Equal(t, frank.UUID, res.User.UUID)
		require.True(t, res.User.Session.Expired(later))
	})

	t.Run("opt-in local expiry check", func(t *testing.T) {
		strict := srv.Client(t,
			deadbolt.WithLogger(slogx.Discard()),
			deadbolt.WithExpiryCheck(func() time.Time { return later }),
		)
		res, err := strict.CheckSession(ctx, token)
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Nil(t, res.User)
		require.Equal(t, deadbolt.ReasonSessionExpired, res.Reason)

		res, err = srv.Client(t,
			deadbolt.WithLogger(slogx.Discard()),
			deadbolt.WithExpiryCheck(time.Now),
		).CheckSession(ctx, token)
		require.NoError(t, err)
		require.True(t, res.Success)
	})

	t.Run("expired on the server", func(t *testing.T) {
		srv.Advance(2 * time.Hour)
		res, err := c.CheckSession(ctx, token)
		require.NoError(t, err)
		require.False(t, res.Success)
	})
}

func TestCheckSessionMistypedFields(t *testing.T) {
	t.Parallel()

	c := canned(t, http.StatusOK, map[string]any{
		"uuid":     "u1",
		"id":       "not-a-number",
		"username": "bob",
		"session":  map[string]any{"token": "tok", "created": float64(1700000000), "expires": float64(1700003600)},
	})

	res, err := c.CheckSession(context.Background(), "tok")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, res.User.ID)
	require.Equal(t, "u1", res.User.UUID)
	require.Equal(t, "bob", res.User.Username)
	require.Equal(t, "tok", res.User.Session.Token)
}

func TestInvalidateSessions(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	ctx := context.Background()
	gail := addUser(t, c, "gail", deadbolt.TwoFactorNone)

	var tokens []string
	for range 3 {
		res, err := c.Login(ctx, deadbolt.Credentials{Identifier: "gail", Password: password})
		require.NoError(t, err)
		tokens = append(tokens, res.User.Session.Token)
	}
	require.Equal(t, 3, srv.SessionCount(gail.UUID))

	require.NoError(t, c.InvalidateSessions(ctx, gail.UUID))
	require.Zero(t, srv.SessionCount(gail.UUID))
	for _, token := range tokens {
		res, err := c.CheckSession(ctx, token)
		require.NoError(t, err)
		require.False(t, res.Success)
	}

	require.NoError(t, c.InvalidateSessions(ctx, "nobody"))

	srv.InjectFault(http.MethodDelete, "session/all/"+gail.UUID, http.StatusBadGateway)
	requireCode(t, c.InvalidateSessions(ctx, gail.UUID), deadbolt.CodeInvalidateSessions, http.StatusBadGateway)
}

func TestResetTwoFactor(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	ctx := context.Background()
	hal := addUser(t, c, "hal", deadbolt.TwoFactorNone)

	_, err := c.Login(ctx, deadbolt.Credentials{Identifier: "hal", Password: password})
	require.NoError(t, err)
	require.Equal(t, 1, srv.SessionCount(hal.UUID))

	info, err := c.ResetTwoFactor(ctx, hal.UUID, deadbolt.TwoFactorEmail)
	require.NoError(t, err)
	require.Equal(t, deadbolt.TwoFactorEmail, info.Type)
	require.Zero(t, srv.SessionCount(hal.UUID))
}
