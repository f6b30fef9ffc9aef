package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/inspector"
	"github.com/gwtwod/humiocli/internal/transform"
)

type makeparserFlags struct {
	repos    []string
	encoding string
	dry      bool
}

func newMakeparserCommand(a *app) *cobra.Command {
	var f makeparserFlags
	cmd := &cobra.Command{
		Use:   "makeparser [flags] FILE",
		Short: "Install a parser file as the ingest transformer of repos",
		Long: `Install FILE ("-" is stdin) as the log transformer of every --repo.

A .json file holds a JSON array of transformer processors as accepted by
PutTransformer. Any other file holds a single grok pattern that is matched
against each event as it is ingested. The parser replaces any transformer the
group already has.

Examples:
  hc makeparser -r '/aws/app*' apache.grok
  hc makeparser -r /aws/api --dry parsers/api.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if fl.Changed("repo") {
				a.opts.Repos = f.repos
			}
			if !fl.Changed("encoding") {
				f.encoding = a.opts.Ingest.Encoding
			}
			return a.runMakeparser(cmd.Context(), f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.repos, "repo", "r", nil, "log group name or shell pattern, repeatable (HC_REPOS)")
	fl.StringVar(&f.encoding, "encoding", "", "parser file encoding, or auto to detect it (HC_ENCODING)")
	fl.BoolVar(&f.dry, "dry", false, "resolve repos and validate the parser without installing it")
	return cmd
}

func (a *app) runMakeparser(ctx context.Context, f makeparserFlags, file string) error {
	if len(a.opts.Repos) == 0 {
		return usageErrorf("no repos given (use --repo or HC_REPOS)")
	}
	r, closeFn, err := a.openInput(file, f.encoding)
	if err != nil {
		return err
	}
	src, err := io.ReadAll(r)
	closeFn()
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	parser, err := transform.ParseFile(file, string(src))
	if err != nil {
		return &UsageError{Err: err}
	}

	backend, err := a.backend(ctx)
	if err != nil {
		return fmt.Errorf("failed to create CloudWatch client: %w", err)
	}
	groups, err := a.expandRepos(ctx, inspector.New(backend, inspector.WithLogger(a.logger)), a.opts.Repos)
	if err != nil {
		return err
	}
	in := &transform.Installer{Client: backend, Dry: f.dry, Logger: a.logger}
	done, err := in.Install(ctx, parser, groups)
	if len(done) > 0 {
		fmt.Fprintln(a.deps.Stdout, strings.Join(done, "\n"))
	}
	if err != nil {
		return err
	}
	a.logger.Debug("makeparser done", zap.String("parser", parser.Name), zap.Int("groups", len(done)), zap.Bool("dry", f.dry))
	return nil
}
