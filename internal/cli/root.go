// Package cli implements the deadbolt command line tool.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

// App holds what every command shares: configuration, the output stream and
// a lazily built client.
type App struct {
	cfg    Config
	out    io.Writer
	in     *bufio.Reader
	logger *slog.Logger

	endpoint   string
	jsonOutput bool

	// readPassword reads a secret without echo.
	readPassword func(prompt string) (string, error)

	client *deadbolt.Client
}

// Option configures an App.
type Option func(*App)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = bufio.NewReader(in)
		a.out = out
	}
}

// WithPasswordReader replaces the terminal password prompt.
func WithPasswordReader(fn func(prompt string) (string, error)) Option {
	return func(a *App) { a.readPassword = fn }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// NewRootCommand builds the command tree.
func NewRootCommand(cfg Config, opts ...Option) *cobra.Command {
	a := &App{
		cfg: cfg,
		out: os.Stdout,
		in:  bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readPassword == nil {
		a.readPassword = a.terminalPassword
	}

	root := &cobra.Command{
		Use:   "deadbolt",
		Short: "Command line client for the Deadbolt identity service",
		Long: `deadbolt talks to a Deadbolt identity service: log in, inspect sessions,
manage users and their roles, and drive two-factor enrolment.

Environment Variables:
  DEADBOLT_ENDPOINT              Service address (default: http://localhost:3000/)
  DEADBOLT_TIMEOUT               Per-request timeout, e.g. 5s (default: 10s)
  DEADBOLT_RATELIMIT_REQUESTS    Requests allowed per window (default: unlimited)
  DEADBOLT_RATELIMIT_WINDOW_SEC  Rate limit window in seconds
  DEADBOLT_RATELIMIT_BURST       Burst above the limit
  LOG_LEVEL                      debug, info, warn or error (default: warn)
  LOG_FORMAT                     json or text (default: text)`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.out)

	root.PersistentFlags().StringVar(&a.endpoint, "endpoint", "", "Service address (overrides DEADBOLT_ENDPOINT)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output JSON instead of human-readable text")

	root.AddCommand(
		a.statusCommand(),
		a.loginCommand(),
		a.checkSessionCommand(),
		a.logoutCommand(),
		a.userCommand(),
		a.passwordCommand(),
		a.twoFactorCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context, cfg Config) error {
	return NewRootCommand(cfg).ExecuteContext(ctx)
}

// Client returns the client, building it on first use.
func (a *App) Client() (*deadbolt.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	if a.logger == nil {
		a.logger = slogx.New(slogx.Config{
			Service: "deadbolt-cli",
			Version: Version,
			Env:     a.cfg.Env,
			Level:   a.cfg.LogLevel,
			Format:  a.cfg.LogFormat,
		})
	}

	endpoint := a.cfg.Endpoint
	if a.endpoint != "" {
		endpoint = a.endpoint
	}

	c, err := deadbolt.New(endpoint,
		deadbolt.WithTimeout(a.cfg.Timeout),
		deadbolt.WithRateLimit(a.cfg.RateLimit),
		deadbolt.WithLogger(a.logger),
		deadbolt.WithUserAgent("deadbolt-cli/"+Version),
	)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// emit prints v as indented JSON with --json, or runs human otherwise.
func (a *App) emit(v any, human func(w io.Writer)) error {
	if a.jsonOutput {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		_, err = fmt.Fprintln(a.out, string(data))
		return err
	}
	human(a.out)
	return nil
}
