package cmd

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/inspector"
	"github.com/gwtwod/humiocli/internal/output"
	"github.com/gwtwod/humiocli/internal/subsearch"
	"github.com/gwtwod/humiocli/internal/util"
)

type searchFlags struct {
	repos     []string
	start     string
	end       string
	outformat string
	fields    string
	selected  []string
	rawField  string
	pageSize  int
	async     bool
	sync      bool
	color     string
	style     string
	limit     int32
}

func newSearchCommand(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search [flags] [QUERY]",
		Short: "Search one or more repos (the default command)",
		Long: `Search log groups over a time window and stream the results to stdout.

Time expressions are relative to now: "-15m", "-1d@d", "@w1", "-2h@h+30m".
Absolute times (RFC3339, "2006-01-02 15:04", "15:04") and epoch seconds or
milliseconds are accepted as well.

--outformat or-insights, or-pattern, or-fields and or-values turn the results
into query fragments, one per field, plus a SUBSEARCH entry that ANDs them
together. Pipe them into another search with --fields - and reference them as
{{SUBSEARCH}} or {{field}} in the query. or-insights writes Logs Insights
comparisons, or-pattern writes JSON filter pattern terms for --sync:

  hc -r /aws/app 'ERROR' -o or-insights --select requestId |
    hc -r /aws/api --fields - 'filter {{SUBSEARCH}}'

  hc --sync -r /aws/app 'ERROR' -o or-pattern --select requestId |
    hc --sync -r /aws/api --fields - '{ {{SUBSEARCH}} }'

--outformat pretty prints the raw event text with XML indented, highlighted
with --style when colour is on.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			a.applySearchFlags(cmd, &f)
			return a.runSearch(cmd.Context(), f, query)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.repos, "repo", "r", nil, "log group name or shell pattern, repeatable or comma-separated (HC_REPOS)")
	fl.StringVarP(&f.start, "start", "s", "", "window start: relative expression, absolute time or epoch (default @d) (HC_START)")
	fl.StringVarP(&f.end, "end", "e", "", "window end: relative expression, absolute time or epoch (default now) (HC_END)")
	fl.StringVarP(&f.outformat, "outformat", "o", "", "output format: "+modeNames()+" (HC_OUTFORMAT)")
	fl.StringVar(&f.fields, "fields", "", "JSON document for {{expr}} placeholders in QUERY, or - to read it from stdin")
	fl.StringSliceVar(&f.selected, "select", nil, "fields used by or-fields/or-values (default all but @timestamp and @rawstring)")
	fl.StringVar(&f.rawField, "raw-field", "", "field printed by --outformat raw (HC_RAW_FIELD)")
	fl.IntVar(&f.pageSize, "page-size", 0, fmt.Sprintf("records per table page, 1..%d (HC_PAGE_SIZE)", output.MaxPageSize))
	fl.BoolVar(&f.async, "async", false, "run a Logs Insights query (default)")
	fl.BoolVar(&f.sync, "sync", false, "stream matching events with FilterLogEvents instead of Insights")
	fl.StringVar(&f.color, "color", "", "style table headers and pretty output: auto, always, never (HC_COLOR)")
	fl.StringVar(&f.style, "style", "", "pretty highlighting style, e.g. paraiso-dark, monokai, solarized-dark (HC_STYLE)")
	fl.Int32Var(&f.limit, "limit", 0, "maximum records per page or query (service default when 0)")
	cmd.MarkFlagsMutuallyExclusive("async", "sync")
	return cmd
}

// applySearchFlags layers explicitly set flags over the loaded options.
func (a *app) applySearchFlags(cmd *cobra.Command, f *searchFlags) {
	fl := cmd.Flags()
	if fl.Changed("repo") {
		a.opts.Repos = ParseGroupsCSV(f.repos...)
	}
	if fl.Changed("start") {
		a.opts.Start = f.start
	}
	if fl.Changed("end") {
		a.opts.End = f.end
	}
	if fl.Changed("outformat") {
		a.opts.OutFormat = f.outformat
	}
	if fl.Changed("raw-field") {
		a.opts.RawField = f.rawField
	}
	if fl.Changed("page-size") {
		a.opts.PageSize = f.pageSize
	}
	if fl.Changed("color") {
		a.opts.Color = f.color
	}
	if fl.Changed("style") {
		a.opts.Style = f.style
	}
	if f.sync {
		a.opts.Sync = true
	}
	if f.async {
		a.opts.Sync = false
	}
}

func (a *app) runSearch(ctx context.Context, f searchFlags, query string) error {
	mode, err := output.ParseMode(a.opts.OutFormat)
	if err != nil {
		return &UsageError{Err: err}
	}
	if a.opts.PageSize < 1 || a.opts.PageSize > output.MaxPageSize {
		return usageErrorf("page size %d out of range 1..%d", a.opts.PageSize, output.MaxPageSize)
	}
	color, err := ResolveColor(a.opts.Color, a.deps.StdoutFd)
	if err != nil {
		return err
	}
	if slices.Contains(f.selected, subsearch.KeySubsearch) {
		return &UsageError{Err: subsearch.ErrReservedField}
	}
	window, err := ResolveTimeWindow(a.opts.Start, a.opts.End, a.deps.Now())
	if err != nil {
		return err
	}
	if f.fields != "" {
		doc, err := ReadFieldsDocument(f.fields, a.deps.Stdin)
		if err != nil {
			return err
		}
		if query, err = util.InterpolateQuery(query, doc); err != nil {
			return &UsageError{Err: err}
		}
	}
	if len(a.opts.Repos) == 0 {
		return usageErrorf("no repos given (use --repo or HC_REPOS)")
	}

	backend, err := a.backend(ctx)
	if err != nil {
		return fmt.Errorf("failed to create CloudWatch client: %w", err)
	}
	execMode := inspector.ModeInsights
	if a.opts.Sync {
		execMode = inspector.ModeStream
	}
	insp := inspector.New(backend,
		inspector.WithMode(execMode),
		inspector.WithLimit(f.limit),
		inspector.WithLogger(a.logger))

	groups, err := a.expandRepos(ctx, insp, a.opts.Repos)
	if err != nil {
		return err
	}
	a.logger.Debug("search",
		zap.Strings("groups", groups),
		zap.Stringer("window", window),
		zap.String("query", query),
		zap.Bool("sync", a.opts.Sync))

	s, err := insp.Execute(ctx, window, query, groups)
	if err != nil {
		return err
	}
	formatter, err := output.New(mode, a.deps.Stdout, output.Options{
		PageSize: a.opts.PageSize,
		RawField: a.opts.RawField,
		Fields:   f.selected,
		Color:    color,
		Style:    a.opts.Style,
		Logger:   a.logger,
	})
	if err != nil {
		return &UsageError{Err: err}
	}
	sum, err := formatter.Format(ctx, s)
	a.logger.Debug("search done",
		zap.Int("records", sum.Records),
		zap.Int("pages", sum.Pages),
		zap.Int("missing", sum.Missing))
	if err != nil {
		return err
	}
	if sum.Records == 0 {
		a.logger.Info("no results", zap.Stringer("window", window))
	}
	return sum.Err()
}

// expandRepos resolves shell patterns against the listed groups. Plain
// names are used as given. Each group appears once, in first-given order.
func (a *app) expandRepos(ctx context.Context, insp *inspector.Inspector, repos []string) ([]string, error) {
	var names, patterns []string
	for _, r := range repos {
		if strings.ContainsAny(r, "*?") {
			patterns = append(patterns, r)
		} else {
			names = append(names, r)
		}
	}
	if len(patterns) == 0 {
		return dedupe(names), nil
	}
	all, err := insp.ListGroups(ctx, "")
	if err != nil {
		return nil, err
	}
	matched, err := inspector.FilterGroups(all, patterns, nil)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	for _, g := range matched {
		names = append(names, g.Name)
	}
	if len(names) == 0 {
		return nil, usageErrorf("no repos match %s", strings.Join(patterns, ", "))
	}
	return dedupe(names), nil
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func modeNames() string {
	names := make([]string, len(output.Modes))
	for i, m := range output.Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
