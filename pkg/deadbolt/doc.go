// Package deadbolt provides a client for the Deadbolt identity service.
//
// The client issues sessions, drives two-factor verification and manages
// user accounts. Every call is a single request/response round trip; the
// client keeps no sessions or users between calls.
//
// # Basic Usage
//
//	client, err := deadbolt.New("http://localhost:3000/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Login(ctx, deadbolt.Credentials{
//	    Identifier: "alice",
//	    Password:   "secret",
//	})
//	if err != nil {
//	    log.Fatal(err) // the service misbehaved or was unreachable
//	}
//
//	switch res.State() {
//	case deadbolt.Authenticated:
//	    fmt.Println("token:", res.User.Session.Token)
//	case deadbolt.TwoFactorPending:
//	    // deliver res.Challenge.Token, then redeem the code the user typed
//	    res, err = client.VerifyTwoFactor(ctx, res.User.UUID, code,
//	        res.Challenge.UserToken, res.Challenge.Type)
//	case deadbolt.LoginFailed:
//	    fmt.Println("rejected:", res.Reason)
//	}
//
// # Login States
//
// A login attempt moves through a small state machine:
//
//	Unauthenticated --Login--> Authenticated
//	                      \--> TwoFactorPending --VerifyTwoFactor--> Authenticated
//	                      |                                    \--> VerificationFailed
//	                      \--> LoginFailed
//
// A second factor is pending exactly when the login result carries a
// challenge. The user in a pending result has no session.
//
// # Errors
//
// Outcomes the service documents, such as a wrong password, an invalid code,
// an unknown user or a spent reset token, come back as result values
// (SessionResult, BasicResult, PasswordResetResult, a false bool or a nil
// user) with a reason slug. Anything else is returned as a *Error whose Code
// names the operation that failed:
//
//	_, err := client.AddUser(ctx, data)
//	if errors.Is(err, deadbolt.ErrEmailAlreadyExists) {
//	    // ask for another address
//	}
//
// # Configuration
//
// New accepts functional options: WithHTTPClient, WithTimeout, WithLogger,
// WithRateLimit, WithMetrics, WithUserAgent and WithTransport.
package deadbolt
