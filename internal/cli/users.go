package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/spf13/cobra"
)

func (a *App) userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(
		a.userGetCommand(),
		a.userListCommand(),
		a.userAddCommand(),
		a.userUpdateCommand(),
		a.userPurgeCommand(),
		a.userConfirmCommand(),
		a.rolesCommand(),
	)
	return cmd
}

func (a *App) userGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id|uuid|email|username>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			u, err := c.GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return deadbolt.NewError(deadbolt.CodeUserNotFound, args[0])
			}
			return a.emit(u, func(w io.Writer) { printUser(w, u) })
		},
	}
}

func (a *App) userListCommand() *cobra.Command {
	var (
		criteria deadbolt.SearchCriteria
		members  []string
		orderBy  []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, raw := range members {
				m, err := parseAppRole(raw)
				if err != nil {
					return err
				}
				criteria.Membership = append(criteria.Membership, m)
			}
			for _, raw := range orderBy {
				o := deadbolt.OrderBy(raw)
				if !o.Valid() {
					return fmt.Errorf("unknown order %q", raw)
				}
				criteria.OrderBy = append(criteria.OrderBy, o)
			}

			c, err := a.Client()
			if err != nil {
				return err
			}
			p, err := c.GetUsers(cmd.Context(), criteria)
			if err != nil {
				return err
			}
			return a.emit(p, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "UUID\tUSERNAME\tEMAIL\tROLES")
				for _, u := range p.Items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.UUID, u.Username, u.Email, formatRoles(u.Memberships))
				}
				tw.Flush()
				printPageFooter(w, p.CurrentPage, p.Total, p.HasMore())
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&criteria.Q, "q", "", "Free-text query")
	f.StringVar(&criteria.Email, "email", "", "Exact email address")
	f.StringSliceVar(&criteria.UUIDs, "uuid", nil, "Only these users (repeatable)")
	f.StringArrayVar(&members, "member", nil, "Require app:role (repeatable)")
	f.IntVar(&criteria.Page, "page", 0, "Zero-based page")
	f.IntVar(&criteria.PerPage, "per-page", deadbolt.DefaultPerPage, "Page size")
	f.StringSliceVar(&orderBy, "order-by", nil, "Sort keys, '-' prefix for descending (repeatable)")
	return cmd
}

func (a *App) userAddCommand() *cobra.Command {
	var data deadbolt.NewUserData
	var method string

	cmd := &cobra.Command{
		Use:   "add <username> <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data.Username, data.Email = args[0], args[1]
			if method != "" {
				m, err := deadbolt.ParseTwoFactorMethod(method)
				if err != nil {
					return err
				}
				data.TwoFactor = m
			}

			password, err := a.readPassword("Password")
			if err != nil {
				return err
			}
			data.Password = password

			c, err := a.Client()
			if err != nil {
				return err
			}
			u, err := c.AddUser(cmd.Context(), data)
			if err != nil {
				return err
			}
			return a.emit(u, func(w io.Writer) { printUser(w, u) })
		},
	}

	cmd.Flags().StringVar(&data.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&data.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&method, "2fa", "", "Second factor: totp, email or sms")
	return cmd
}

func (a *App) userUpdateCommand() *cobra.Command {
	var (
		username, firstName, lastName, email, method string
		active                                       bool
	)

	cmd := &cobra.Command{
		Use:   "update <uuid>",
		Short: "Change account fields; only the flags given are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := deadbolt.UserUpdate{UUID: args[0]}
			f := cmd.Flags()
			if f.Changed("username") {
				upd.Username = &username
			}
			if f.Changed("first-name") {
				upd.FirstName = &firstName
			}
			if f.Changed("last-name") {
				upd.LastName = &lastName
			}
			if f.Changed("email") {
				upd.Email = &email
			}
			if f.Changed("active") {
				upd.Active = &active
			}
			if f.Changed("2fa") {
				m := deadbolt.TwoFactorNone
				if method != "" && method != "none" {
					parsed, err := deadbolt.ParseTwoFactorMethod(method)
					if err != nil {
						return err
					}
					m = parsed
				}
				upd.TwoFactor = &m
			}

			c, err := a.Client()
			if err != nil {
				return err
			}
			u, err := c.UpdateUser(cmd.Context(), upd)
			if err != nil {
				return err
			}
			return a.emit(u, func(w io.Writer) { printUser(w, u) })
		},
	}

	f := cmd.Flags()
	f.StringVar(&username, "username", "", "New username")
	f.StringVar(&firstName, "first-name", "", "New first name")
	f.StringVar(&lastName, "last-name", "", "New last name")
	f.StringVar(&email, "email", "", "New email address")
	f.BoolVar(&active, "active", true, "Activate or deactivate; deactivating ends all sessions")
	f.StringVar(&method, "2fa", "", "Second factor: totp, email, sms or none")
	return cmd
}

func (a *App) userPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <uuid>",
		Short: "Delete an account permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}
			if err := c.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.emit(map[string]bool{"success": true}, func(w io.Writer) {
				fmt.Fprintf(w, "Purged %s.\n", args[0])
			})
		},
	}
}

func (a *App) userConfirmCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "confirm-email <email>",
		Short: "Confirm an email address, with --token or by force",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Client()
			if err != nil {
				return err
			}

			var confirmed bool
			if token != "" {
				confirmed, err = c.ConfirmEmail(cmd.Context(), token)
			} else {
				confirmed, err = c.ForceConfirmEmail(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			if !confirmed {
				return rejected("confirmation token not accepted")
			}
			return a.emit(map[string]bool{"success": true}, func(w io.Writer) {
				fmt.Fprintf(w, "Confirmed %s.\n", args[0])
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Confirmation token from the email")
	return cmd
}

func (a *App) rolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Grant and revoke roles",
	}

	edit := func(use, short string, fn func(c *deadbolt.Client, cmd *cobra.Command, id, app string, roles []string) (*deadbolt.User, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <identifier> <app> <role>...",
			Short: short,
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.Client()
				if err != nil {
					return err
				}
				u, err := fn(c, cmd, args[0], args[1], args[2:])
				if err != nil {
					return err
				}
				return a.emit(u, func(w io.Writer) { printUser(w, u) })
			},
		}
	}

	add := edit("add", "Grant roles in an application",
		func(c *deadbolt.Client, cmd *cobra.Command, id, app string, roles []string) (*deadbolt.User, error) {
			return c.AddRoles(cmd.Context(), id, app, roles...)
		})
	remove := edit("remove", "Revoke roles in an application",
		func(c *deadbolt.Client, cmd *cobra.Command, id, app string, roles []string) (*deadbolt.User, error) {
			return c.RemoveRoles(cmd.Context(), id, app, roles...)
		})

	set := &cobra.Command{
		Use:   "set <identifier> [app:role]...",
		Short: "Replace every membership; no pairs clears them all",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberships := make([]deadbolt.Membership, 0, len(args)-1)
			for _, raw := range args[1:] {
				m, err := parseAppRole(raw)
				if err != nil {
					return err
				}
				memberships = append(memberships, m)
			}

			c, err := a.Client()
			if err != nil {
				return err
			}
			u, err := c.UpdateMemberships(cmd.Context(), args[0], memberships)
			if err != nil {
				return err
			}
			return a.emit(u, func(w io.Writer) { printUser(w, u) })
		},
	}

	cmd.AddCommand(add, remove, set)
	return cmd
}

func parseAppRole(raw string) (deadbolt.Membership, error) {
	app, role, ok := strings.Cut(raw, ":")
	if !ok || app == "" || role == "" {
		return deadbolt.Membership{}, fmt.Errorf("membership %q is not app:role", raw)
	}
	return deadbolt.Membership{App: app, Role: role}, nil
}

func formatRoles(ms []deadbolt.Membership) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, m.App+":"+m.Role)
	}
	return strings.Join(parts, ",")
}
