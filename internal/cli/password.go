package cli

import (
	"fmt"
	"io"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/spf13/cobra"
)

func (a *App) passwordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Verify, change and reset passwords",
	}

	resetRequest := &cobra.Command{
		Use:   "reset-request <identifier>",
		Short: "Issue a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			res, err := c.RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "UUID:  %s\nToken: %s\n", res.UUID, res.Token)
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword("New password")
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			res, err := c.PasswordReset(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) { fmt.Fprintln(w, "Password reset.") })
		},
	}

	verify := &cobra.Command{
		Use:   "verify <identifier>",
		Short: "Check a password without logging in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword("Password")
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			ok, err := c.VerifyPassword(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !ok {
				return rejected(deadbolt.ReasonIncorrectPassword)
			}
			return a.emit(map[string]bool{"verified": true}, func(w io.Writer) { fmt.Fprintln(w, "Password verified.") })
		},
	}

	change := &cobra.Command{
		Use:   "change <uuid>",
		Short: "Change a password after checking the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.readPassword("Current password")
			if err != nil {
				return err
			}
			next, err := a.readPassword("New password")
			if err != nil {
				return err
			}
			c, err := a.Client()
			if err != nil {
				return err
			}
			res, err := c.VerifyAndChangePassword(cmd.Context(), args[0], current, next)
			if err != nil {
				return err
			}
			if !res.Success {
				return rejected(res.Reason)
			}
			return a.emit(res, func(w io.Writer) { fmt.Fprintln(w, "Password changed.") })
		},
	}

	cmd.AddCommand(resetRequest, reset, verify, change)
	return cmd
}
