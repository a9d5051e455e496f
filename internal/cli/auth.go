package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/spf13/cobra"
)

// ErrRejected is returned when the service refused the request in an
// expected way, such as a wrong password.
var ErrRejected = errors.New("rejected")

func rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(st, func(w io.Writer) {
				fmt.Fprintf(w, "Status:   %s\nExpress:  %s\nDatabase: %s\n", st.Status, st.Express, st.Database)
			})
		},
	}
}

func (a *App) loginCommand() *cobra.Command {
	var app string

	cmd := &cobra.Command{
		Use:   "login <username|email>",
		Short: "Log in and print the session token",
		Long: `Log in with a username or email address. The password is read from the
terminal. When the account uses a second factor the code is prompted for and
verified before the session is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}

			password, err := a.readPassword("Password")
			if err != nil {
				return err
			}

			res, err := c.Login(cmd.Context(), deadbolt.Credentials{Identifier: args[0], Password: password, App: app})
			if err != nil {
				return err
			}

			if res.NeedsTwoFactor() {
				challenge := res.Challenge
				if challenge.Type.Delivered() {
					fmt.Fprintf(a.out, "A verification code was sent by %s.\n", challenge.Type)
				}
				code, err := a.prompt("Code")
				if err != nil {
					return err
				}
				if res, err = c.VerifyTwoFactor(cmd.Context(), res.User.UUID, code, challenge.UserToken, challenge.Type); err != nil {
					return err
				}
			}

			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) { printSession(w, res.User) })
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "Scope the session to an application")
	return cmd
}

func (a *App) checkSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-session <token>",
		Short: "Resolve a session token to its user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			res, err := c.CheckSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) { printSession(w, res.User) })
		},
	}
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <identifier>",
		Short: "End every session a user holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			if err := c.InvalidateSessions(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.emit(map[string]bool{"success": true}, func(w io.Writer) {
				fmt.Fprintln(w, "All sessions ended.")
			})
		},
	}
}

func (a *App) twoFactorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "2fa",
		Short: "Manage two-factor authentication",
	}

	setup := &cobra.Command{
		Use:   "setup <identifier> <totp|email|sms>",
		Short: "Start two-factor enrolment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := deadbolt.ParseTwoFactorMethod(args[1])
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			info, err := c.SetupTwoFactor(cmd.Context(), args[0], method)
			if err != nil {
				return err
			}
			return a.emit(info, func(w io.Writer) { printSetup(w, info) })
		},
	}

	verify := &cobra.Command{
		Use:   "verify <identifier> <method> <user-token>",
		Short: "Redeem a challenge or confirm an authenticator",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := deadbolt.ParseTwoFactorMethod(args[1])
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			code, err := a.prompt("Code")
			if err != nil {
				return err
			}
			res, err := c.VerifyTwoFactor(cmd.Context(), args[0], code, args[2], method)
			if err != nil {
				return err
			}
			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) { printSession(w, res.User) })
		},
	}

	request := &cobra.Command{
		Use:   "request <identifier> <method>",
		Short: "Issue a fresh challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := deadbolt.ParseTwoFactorMethod(args[1])
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			ch, err := c.RequestTwoFactor(cmd.Context(), args[0], method)
			if err != nil {
				return err
			}
			return a.emit(ch, func(w io.Writer) {
				fmt.Fprintf(w, "Type:       %s\nUser token: %s\nExpires:    %s\n", ch.Type, ch.UserToken, ch.Expires)
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <uuid> <method>",
		Short: "Re-enrol a user and end their sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := deadbolt.ParseTwoFactorMethod(args[1])
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			info, err := c.ResetTwoFactor(cmd.Context(), args[0], method)
			if err != nil {
				return err
			}
			return a.emit(info, func(w io.Writer) { printSetup(w, info) })
		},
	}

	var page int
	tokens := &cobra.Command{
		Use:   "tokens <method>",
		Short: "List issued challenges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := deadbolt.ParseTwoFactorMethod(args[0])
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			p, err := c.GetTokens(cmd.Context(), method, page)
			if err != nil {
				return err
			}
			return a.emit(p, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tUSED\tATTEMPTS\tEXPIRES")
				for _, ch := range p.Items {
					fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", ch.Type, ch.Used, ch.Attempt, ch.Expires)
				}
				tw.Flush()
				printPageFooter(w, p.CurrentPage, p.Total, p.HasMore())
			})
		},
	}
	tokens.Flags().IntVar(&page, "page", 0, "Zero-based page")

	cmd.AddCommand(setup, verify, request, reset, tokens)
	return cmd
}
