package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/gwtwod/humiocli/internal/ingest"
	"github.com/gwtwod/humiocli/internal/splitter"
	"github.com/gwtwod/humiocli/internal/timemod"
)

type ingestFlags struct {
	repo      string
	stream    string
	separator string
	fields    string
	timestamp string
	encoding  string
	softLimit int
	dry       bool
	rate      float64
}

func newIngestCommand(a *app) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest [flags] [FILE...]",
		Short: "Split files into events and ingest them into a repo",
		Long: `Split each FILE (or stdin) into events and send them to a log group.

A new event starts at every match of --separator, a regular expression
matched per line (default: every non-empty line). Text before the first match
becomes its own event when it is not empty. Files ending in .gz or .zst are
decompressed. With the default --encoding auto, input is read as UTF-8
unless it starts with a byte order mark or is not valid UTF-8, in which case
the encoding is guessed and the text converted.

With --fields every event is sent as a JSON object holding the text under
@rawstring plus the given fields.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if fl.Changed("repo") {
				a.opts.Ingest.Repo = f.repo
			}
			if fl.Changed("separator") {
				a.opts.Ingest.Separator = f.separator
			}
			if fl.Changed("encoding") {
				a.opts.Ingest.Encoding = f.encoding
			}
			if fl.Changed("soft-limit") {
				a.opts.Ingest.SoftLimit = f.softLimit
			}
			return a.runIngest(cmd.Context(), f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.repo, "repo", "r", "", "destination log group (HC_INGEST_REPO)")
	fl.StringVar(&f.stream, "stream", "", "log stream name (default hc-ingest-<uuid>)")
	fl.StringVar(&f.separator, "separator", "", "event boundary regular expression (default ^.) (HC_SEPARATOR)")
	fl.StringVar(&f.fields, "fields", "", `JSON object added to every event, e.g. '{"host":"web-1"}'`)
	fl.StringVar(&f.timestamp, "timestamp", "", "fixed event time: relative expression, absolute time or epoch (default now per event)")
	fl.StringVar(&f.encoding, "encoding", "", "input text encoding, e.g. utf-8, latin1, utf-16le, or auto to detect it (HC_ENCODING)")
	fl.IntVar(&f.softLimit, "soft-limit", 0, fmt.Sprintf("maximum batch size in bytes (default %d)", ingest.DefaultSoftLimit))
	fl.BoolVar(&f.dry, "dry", false, "split and batch without sending anything")
	fl.Float64Var(&f.rate, "rate", 5, "maximum PutLogEvents calls per second")
	return cmd
}

func (a *app) runIngest(ctx context.Context, f ingestFlags, files []string) error {
	cfg := a.opts.Ingest
	if cfg.Repo == "" {
		return usageErrorf("no destination repo given (use --repo or HC_INGEST_REPO)")
	}
	injected, err := ParseInjectedFields(f.fields)
	if err != nil {
		return err
	}
	var splitOpts []splitter.Option
	if f.timestamp != "" {
		ts, err := timemod.Parse(f.timestamp, a.deps.Now())
		if err != nil {
			return err
		}
		splitOpts = append(splitOpts, splitter.WithTimestamp(ts))
	}
	sp, err := splitter.New(cfg.Separator, injected, splitOpts...)
	if err != nil {
		return &UsageError{Err: err}
	}
	if f.rate <= 0 {
		return usageErrorf("--rate must be positive")
	}

	ing := &ingest.Ingester{
		Group:     cfg.Repo,
		Stream:    f.stream,
		SoftLimit: cfg.SoftLimit,
		Dry:       f.dry,
		Limiter:   rate.NewLimiter(rate.Limit(f.rate), 1),
		Logger:    a.logger,
	}
	if !f.dry {
		backend, err := a.backend(ctx)
		if err != nil {
			return fmt.Errorf("failed to create CloudWatch client: %w", err)
		}
		ing.Client = backend
	}

	if len(files) == 0 {
		files = []string{"-"}
	}
	var total ingest.Stats
	for _, name := range files {
		stats, err := a.ingestFile(ctx, ing, sp, name, cfg.Encoding)
		total.Records += stats.Records
		total.Batches += stats.Batches
		total.Bytes += stats.Bytes
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	a.logger.Info("ingest done",
		zap.String("group", ing.Group),
		zap.String("stream", ing.Stream),
		zap.Stringer("sent", total))
	return nil
}

func (a *app) ingestFile(ctx context.Context, ing *ingest.Ingester, sp *splitter.Splitter, name, encoding string) (ingest.Stats, error) {
	r, closeFn, err := a.openInput(name, encoding)
	if err != nil {
		return ingest.Stats{}, err
	}
	defer closeFn()
	start := time.Now()
	stats, err := ing.Run(ctx, sp.SplitReader(r))
	a.logger.Debug("file ingested", zap.String("file", name), zap.Int("records", stats.Records), zap.Duration("took", time.Since(start)))
	return stats, err
}

// openInput opens name ("-" is stdin), decompressing by extension and
// decoding to UTF-8.
func (a *app) openInput(name, encoding string) (io.Reader, func(), error) {
	var r io.Reader
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if name == "-" {
		r = a.deps.Stdin
	} else {
		file, err := os.Open(name)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = file.Close() })
		r = file
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		closers = append(closers, func() { _ = zr.Close() })
		r = zr
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		closers = append(closers, zr.Close)
		r = zr
	}

	r, err := a.decode(r, encoding)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return r, closeAll, nil
}

// sniffLen bounds the prefix inspected by encoding auto detection.
const sniffLen = 64 << 10

var errUnknownEncoding = errors.New("unknown encoding")

// decode wraps r with a transform to UTF-8 for the named encoding. "auto"
// guesses the encoding from a byte order mark or the first bytes of input.
func (a *app) decode(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "auto":
		return a.detect(r)
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, &UsageError{Err: fmt.Errorf("%w %q", errUnknownEncoding, name)}
	}
	return enc.NewDecoder().Reader(r), nil
}

func (a *app) detect(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	// one read only, so a slow pipe is not held back until sniffLen bytes
	if _, err := br.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	peek, _ := br.Peek(br.Buffered())
	enc, name, certain := charset.DetermineEncoding(peek, "text/plain")
	if !certain && validUTF8Prefix(peek) {
		a.logger.Debug("input encoding detected", zap.String("encoding", "utf-8"))
		return br, nil
	}
	a.logger.Debug("input encoding detected", zap.String("encoding", name), zap.Bool("bom", certain))
	if certain {
		return transform.NewReader(br, unicode.BOMOverride(enc.NewDecoder())), nil
	}
	return enc.NewDecoder().Reader(br), nil
}

// validUTF8Prefix reports whether b is UTF-8, ignoring a rune cut off at
// the end.
func validUTF8Prefix(b []byte) bool {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				b = b[:i]
			}
			break
		}
	}
	return utf8.Valid(b)
}
