package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
)

func printUser(w io.Writer, u *deadbolt.User) {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	fmt.Fprintf(w, "UUID:      %s\n", u.UUID)
	fmt.Fprintf(w, "Username:  %s\n", u.Username)
	fmt.Fprintf(w, "Name:      %s\n", name)
	fmt.Fprintf(w, "Email:     %s", u.Email)
	if u.EmailConfirmed.Valid {
		fmt.Fprint(w, " (confirmed)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Active:    %t\n", u.IsActive())
	if u.TwoFactor != deadbolt.TwoFactorNone {
		fmt.Fprintf(w, "2FA:       %s\n", u.TwoFactor)
	}
	for _, m := range u.Memberships {
		fmt.Fprintf(w, "Role:      %s:%s\n", m.App, m.Role)
	}
}

func printSession(w io.Writer, u *deadbolt.User) {
	printUser(w, u)
	if u.Session != nil {
		fmt.Fprintf(w, "Token:     %s\n", u.Session.Token)
		fmt.Fprintf(w, "Expires:   %s\n", u.Session.Expires)
	}
}

func printSetup(w io.Writer, info *deadbolt.TwoFactorSetupInfo) {
	fmt.Fprintf(w, "Type:       %s\n", info.Type)
	if info.Message != "" {
		fmt.Fprintf(w, "Message:    %s\n", info.Message)
		return
	}
	fmt.Fprintf(w, "Secret:     %s\n", info.Secret)
	fmt.Fprintf(w, "URL:        %s\n", info.OTPAuthURL)
	fmt.Fprintf(w, "User token: %s\n", info.UserToken)
}

func printPageFooter(w io.Writer, page, total int, more bool) {
	fmt.Fprintf(w, "\nPage %d, %d total", page, total)
	if more {
		fmt.Fprintf(w, " (more with --page %d)", page+1)
	}
	fmt.Fprintln(w)
}
