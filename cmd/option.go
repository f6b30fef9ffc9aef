package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/term"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/output"
	"github.com/gwtwod/humiocli/internal/timemod"
	"github.com/gwtwod/humiocli/internal/util"
)

const (
	// DefaultStart is the search window start when none is given.
	DefaultStart = "@d"
	// DefaultEnd is the search window end when none is given.
	DefaultEnd = "now"
	envPrefix  = "HC_"
)

// Options holds settings shared by every command after merging the config
// file, HC_* environment variables and flags.
type Options struct {
	Region    string       `toml:"region"`
	Profile   string       `toml:"profile"`
	Repos     []string     `toml:"repos"`
	Start     string       `toml:"start"`
	End       string       `toml:"end"`
	OutFormat string       `toml:"outformat"`
	PageSize  int          `toml:"page_size"`
	RawField  string       `toml:"raw_field"`
	Color     string       `toml:"color"`
	Style     string       `toml:"style"`
	LogLevel  string       `toml:"log_level"`
	Sync      bool         `toml:"sync"`
	Ingest    IngestConfig `toml:"ingest"`
}

// IngestConfig holds ingest defaults.
type IngestConfig struct {
	Repo      string `toml:"repo"`
	Separator string `toml:"separator"`
	Encoding  string `toml:"encoding"`
	SoftLimit int    `toml:"soft_limit"`
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		Start:     DefaultStart,
		End:       DefaultEnd,
		OutFormat: string(output.ModeNDJSON),
		PageSize:  output.DefaultPageSize,
		RawField:  model.FieldRawString,
		Color:     "auto",
		Style:     output.DefaultStyle,
		LogLevel:  "warn",
		Ingest:    IngestConfig{Encoding: "auto"},
	}
}

// UsageError marks invalid invocations; main exits with code 2 for them.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErrorf(format string, a ...any) error {
	return &UsageError{Err: fmt.Errorf(format, a...)}
}

// ConfigPath returns $HC_CONFIG or ~/.config/hc/config.toml.
func ConfigPath(lookup func(string) (string, bool)) string {
	if p, _ := lookup(envPrefix + "CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hc", "config.toml")
}

// LoadOptions reads the TOML file at path over the defaults and then applies
// the environment. A missing file is not an error.
func LoadOptions(path string, lookup func(string) (string, bool)) (Options, error) {
	opts := DefaultOptions()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return opts, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &opts); err != nil {
				return opts, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := opts.applyEnv(lookup); err != nil {
		return opts, err
	}
	return opts, nil
}

// applyEnv overrides options from HC_* variables, and the region from
// AWS_REGION when nothing else set it.
func (o *Options) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("REGION", &o.Region)
	str("PROFILE", &o.Profile)
	str("START", &o.Start)
	str("END", &o.End)
	str("OUTFORMAT", &o.OutFormat)
	str("RAW_FIELD", &o.RawField)
	str("COLOR", &o.Color)
	str("STYLE", &o.Style)
	str("LOG_LEVEL", &o.LogLevel)
	str("INGEST_REPO", &o.Ingest.Repo)
	str("SEPARATOR", &o.Ingest.Separator)
	str("ENCODING", &o.Ingest.Encoding)
	if v, ok := lookup(envPrefix + "REPOS"); ok && v != "" {
		o.Repos = ParseGroupsCSV(v)
	}
	if v, ok := lookup(envPrefix + "PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPAGE_SIZE: %w", envPrefix, err)
		}
		o.PageSize = n
	}
	if v, ok := lookup(envPrefix + "SYNC"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSYNC: %w", envPrefix, err)
		}
		o.Sync = b
	}
	if o.Region == "" {
		o.Region, _ = lookup("AWS_REGION")
	}
	return nil
}

// ParseGroupsCSV turns comma-separated group lists into a slice, trimming
// empties. Several values may be given, as with a repeated flag.
func ParseGroupsCSV(values ...string) []string {
	var groups []string
	for _, csv := range values {
		for _, g := range strings.Split(csv, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				groups = append(groups, g)
			}
		}
	}
	return groups
}

// ResolveTimeWindow resolves start and end expressions against now. Empty
// expressions mean DefaultStart and DefaultEnd.
func ResolveTimeWindow(startExpr, endExpr string, now time.Time) (timemod.Window, error) {
	if startExpr == "" {
		startExpr = DefaultStart
	}
	if endExpr == "" {
		endExpr = DefaultEnd
	}
	return timemod.ResolveWindow(startExpr, endExpr, now)
}

// ResolveColor decides whether output is styled: "always", "never" or
// "auto" (only when fd is a terminal).
func ResolveColor(mode string, fd uintptr) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		return term.IsTerminal(int(fd)), nil
	}
	return false, usageErrorf("invalid color mode %q (want auto, always or never)", mode)
}

// ReadFieldsDocument returns the JSON document given to --fields: the value
// itself, or stdin when it is "-".
func ReadFieldsDocument(value string, stdin io.Reader) (any, error) {
	data := []byte(value)
	if value == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read fields from stdin: %w", err)
		}
		data = b
	}
	v, err := util.ParseFields(data)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	return v, nil
}

// ParseInjectedFields decodes the ingest --fields JSON object into a flat
// string map. Nested values use dotted names.
func ParseInjectedFields(value string) (map[string]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	r, ok := model.ParseRecord(value)
	if !ok {
		return nil, usageErrorf("--fields must be a JSON object")
	}
	fields := make(map[string]string, r.Len())
	for _, f := range r.Fields() {
		fields[f.Name] = f.Value.String()
	}
	return fields, nil
}
