package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/client"
	"github.com/gwtwod/humiocli/internal/ingest"
	"github.com/gwtwod/humiocli/internal/inspector"
	"github.com/gwtwod/humiocli/internal/logging"
	"github.com/gwtwod/humiocli/internal/timemod"
	"github.com/gwtwod/humiocli/internal/transform"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// Backend is everything the commands need from CloudWatch Logs.
type Backend interface {
	inspector.LogsClient
	ingest.Sender
	transform.Putter
}

// Deps are the process resources commands run against. Tests replace them.
type Deps struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	StdoutFd   uintptr
	Getenv     func(string) (string, bool)
	Now        func() time.Time
	NewBackend func(ctx context.Context, auth client.AuthOptions) (Backend, error)
}

// DefaultDeps wires the real process and AWS client.
func DefaultDeps() Deps {
	return Deps{
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		StdoutFd: os.Stdout.Fd(),
		Getenv:   os.LookupEnv,
		Now:      time.Now,
		NewBackend: func(ctx context.Context, auth client.AuthOptions) (Backend, error) {
			return client.NewCloudWatchClient(ctx, auth)
		},
	}
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func (a *app) backend(ctx context.Context) (Backend, error) {
	return a.deps.NewBackend(ctx, client.AuthFromEnv(a.opts.Region, a.opts.Profile, a.deps.Getenv))
}

// NewRootCommand builds the hc command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	a := &app{deps: deps, logger: zap.NewNop()}
	var configPath, region, profile, logLevel string

	root := &cobra.Command{
		Use:   "hc",
		Short: "Search and ingest CloudWatch logs from the command line",
		Long: `hc searches CloudWatch Logs groups ("repos") over relative or absolute time
windows and renders the results as ndjson, tables, raw lines or subsearch
fragments that can be piped into the next search. It can also split files
into events and ingest them, and install parsers that structure events as
they arrive.

Settings are read from flags, then HC_* environment variables, then the TOML
file at $HC_CONFIG or ~/.config/hc/config.toml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = ConfigPath(deps.Getenv)
			}
			opts, err := LoadOptions(path, deps.Getenv)
			if err != nil {
				return &UsageError{Err: err}
			}
			flags := cmd.Flags()
			if flags.Changed("region") {
				opts.Region = region
			}
			if flags.Changed("profile") {
				opts.Profile = profile
			}
			if flags.Changed("log-level") {
				opts.LogLevel = logLevel
			}
			a.opts = opts
			logger, err := logging.New(opts.LogLevel)
			if err != nil {
				return &UsageError{Err: err}
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})
	root.SetIn(deps.Stdin)
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default $HC_CONFIG or ~/.config/hc/config.toml)")
	pf.StringVar(&region, "region", "", "AWS region (optional; falls back to AWS_REGION and AWS defaults)")
	pf.StringVar(&profile, "profile", "", "AWS shared config profile (or set AWS_PROFILE)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newSearchCommand(a),
		newIngestCommand(a),
		newRepoCommand(a),
		newMakeparserCommand(a),
		newVersionCommand(),
	)
	return root
}

// DefaultToSearch inserts "search" when args do not start with a known
// subcommand or a root-level help or completion request.
func DefaultToSearch(root *cobra.Command, args []string) []string {
	if len(args) == 0 {
		return args
	}
	first := args[0]
	if slices.Contains([]string{"help", "completion", "-h", "--help", "__complete", "__completeNoDesc"}, first) {
		return args
	}
	for _, c := range root.Commands() {
		if c.Name() == first || c.HasAlias(first) {
			return args
		}
	}
	return append([]string{"search"}, args...)
}

// ExitCode maps a command error to the process exit status: 0 on success,
// 2 for invalid usage or time input, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *UsageError
	if errors.As(err, &usage) ||
		errors.Is(err, timemod.ErrInvalidTimeExpression) ||
		errors.Is(err, timemod.ErrInvalidWindow) {
		return 2
	}
	return 1
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hc version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hc "+Version)
		},
	}
}
