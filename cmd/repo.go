package cmd

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gwtwod/humiocli/internal/inspector"
	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/output"
)

type repoFlags struct {
	filters []string
	ignore  string
	prefix  string
}

func newRepoCommand(a *app) *cobra.Command {
	var f repoFlags
	cmd := &cobra.Command{
		Use:     "repo [flags]",
		Aliases: []string{"repos"},
		Short:   "List repos (log groups) with their size and retention",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRepo(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.filters, "filter", "f", nil, "shell pattern the name must match, repeatable")
	fl.StringVar(&f.ignore, "ignore", "", "regular expression of names to leave out")
	fl.StringVar(&f.prefix, "prefix", "", "only list groups starting with this prefix (server side)")
	return cmd
}

func (a *app) runRepo(ctx context.Context, f repoFlags) error {
	var ignore *regexp.Regexp
	if f.ignore != "" {
		re, err := regexp.Compile(f.ignore)
		if err != nil {
			return usageErrorf("invalid --ignore: %v", err)
		}
		ignore = re
	}
	color, err := ResolveColor(a.opts.Color, a.deps.StdoutFd)
	if err != nil {
		return err
	}
	backend, err := a.backend(ctx)
	if err != nil {
		return fmt.Errorf("failed to create CloudWatch client: %w", err)
	}
	groups, err := inspector.New(backend, inspector.WithLogger(a.logger)).ListGroups(ctx, f.prefix)
	if err != nil {
		return err
	}
	groups, err = inspector.FilterGroups(groups, ParseGroupsCSV(f.filters...), ignore)
	if err != nil {
		return &UsageError{Err: err}
	}
	if len(groups) == 0 {
		return nil
	}
	rows := make([]model.Record, len(groups))
	for i, g := range groups {
		rows[i] = repoRecord(g)
	}
	_, err = a.deps.Stdout.Write(output.RenderTable(rows, color))
	return err
}

func repoRecord(g inspector.Group) model.Record {
	retention := "never expire"
	if g.RetentionDays > 0 {
		retention = strconv.Itoa(int(g.RetentionDays)) + "d"
	}
	created := ""
	if !g.Created.IsZero() && g.Created.Unix() > 0 {
		created = g.Created.UTC().Format(time.DateOnly)
	}
	return model.NewRecord(
		model.Field{Name: "name", Value: model.String(g.Name)},
		model.Field{Name: "size", Value: model.String(humanize.Bytes(uint64(g.StoredBytes)))},
		model.Field{Name: "retention", Value: model.String(retention)},
		model.Field{Name: "created", Value: model.String(created)},
	)
}
