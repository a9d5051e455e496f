package deadbolt_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt/deadbolttest"
	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const password = "correct horse battery staple"

func setup(t *testing.T, opts ...deadbolttest.Option) (*deadbolttest.Server, *deadbolt.Client) {
	t.Helper()

	srv := deadbolttest.NewServer(t, opts...)
	return srv, srv.Client(t, deadbolt.WithLogger(slogx.Discard()))
}

func addUser(t *testing.T, c *deadbolt.Client, username string, method deadbolt.TwoFactorMethod) *deadbolt.User {
	t.Helper()

	u, err := c.AddUser(context.Background(), deadbolt.NewUserData{
		Username:  username,
		Email:     username + "@example.com",
		Password:  password,
		FirstName: "First " + username,
		LastName:  "Last " + username,
		TwoFactor: method,
	})
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()

	var dbErr *deadbolt.Error
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, code, dbErr.Code)
	require.Equal(t, status, dbErr.Status)
}

// cannedTransport answers every request with the same result.
type cannedTransport struct {
	res *httpx.Result
}

func (c cannedTransport) Get(context.Context, string) (*httpx.Result, error) { return c.res, nil }
func (c cannedTransport) Post(context.Context, string, any) (*httpx.Result, error) { return c.res, nil }
func (c cannedTransport) Put(context.Context, string, any) (*httpx.Result, error) { return c.res, nil }
func (c cannedTransport) Delete(context.Context, string) (*httpx.Result, error) { return c.res, nil }

func canned(t *testing.T, status int, body any) *deadbolt.Client {
	t.Helper()

	c, err := deadbolt.New("http://deadbolt.invalid/",
		deadbolt.WithLogger(slogx.Discard()),
		deadbolt.WithTransport(cannedTransport{res: &httpx.Result{Status: status, Body: body}}),
	)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	c, err := deadbolt.New("")
	require.NoError(t, err)
	require.Equal(t, deadbolt.DefaultEndpoint, c.Endpoint())

	c, err = deadbolt.New("https://auth.example.com/api")
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/api/", c.Endpoint())

	_, err = deadbolt.New("ftp://auth.example.com")
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", st.Status)

	srv.InjectFault(http.MethodGet, "/", http.StatusServiceUnavailable)
	_, err = c.Status(ctx)
	requireCode(t, err, deadbolt.CodeStatus, http.StatusServiceUnavailable)
	require.Contains(t, err.Error(), "Injected fault")
}

func TestUnreachable(t *testing.T) {
	t.Parallel()

	srv, c := setup(t)
	srv.Close()

	_, err := c.Login(context.Background(), deadbolt.Credentials{Identifier: "a", Password: "b"})
	requireCode(t, err, deadbolt.CodeLogin, 0)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	srv := deadbolttest.NewServer(t)
	reg := prometheus.NewRegistry()
	c := srv.Client(t, deadbolt.WithLogger(slogx.Discard()), deadbolt.WithMetrics(reg))

	_, err := c.Status(context.Background())
	require.NoError(t, err)
	_, err = c.GetUser(context.Background(), "nobody")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "deadbolt_client_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(2), total)
}

func TestServerRateLimit(t *testing.T) {
	t.Parallel()

	_, c := setup(t, deadbolttest.WithRateLimit(httpx.RateLimitConfig{
		RequestsPerWindow: 1,
		Window:            time.Minute,
		Burst:             1,
	}))
	ctx := context.Background()

	_, err := c.Status(ctx)
	require.NoError(t, err)

	_, err = c.Status(ctx)
	requireCode(t, err, deadbolt.CodeStatus, http.StatusTooManyRequests)
}
