package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gwtwod/humiocli/internal/timemod"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestParseGroupsCSV(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", []string{""}, nil},
		{"none", nil, nil},
		{"simple", []string{"a,b,c"}, []string{"a", "b", "c"}},
		{"spaces", []string{" a, b ,c "}, []string{"a", "b", "c"}},
		{"empties", []string{",a,,b,"}, []string{"a", "b"}},
		{"repeated", []string{"a", "b,c"}, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseGroupsCSV(tt.in...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseGroupsCSV(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveTimeWindow(t *testing.T) {
	fixedNow := time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		startStr  string
		endStr    string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   error
	}{
		{"both-empty", "", "", time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC), fixedNow, nil},
		{"relative", "-1d@d", "@d", time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC), nil},
		{"absolute-start", "2025-08-30T10:00:00Z", "", time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC), fixedNow, nil},
		{"both-absolute", "2025-08-30T09:00:00Z", "2025-08-31T09:30:00Z", time.Date(2025, 8, 30, 9, 0, 0, 0, time.UTC), time.Date(2025, 8, 31, 9, 30, 0, 0, time.UTC), nil},
		{"start-after-end", "2025-08-31T12:01:00Z", "2025-08-31T12:00:00Z", time.Time{}, time.Time{}, timemod.ErrInvalidWindow},
		{"bad-format", "not-time", "", time.Time{}, time.Time{}, timemod.ErrInvalidTimeExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ResolveTimeWindow(tt.startStr, tt.endStr, fixedNow)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if ExitCode(err) != 2 {
					t.Fatalf("exit code = %d, want 2", ExitCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !w.Start.Equal(tt.wantStart) || !w.Stop.Equal(tt.wantEnd) {
				t.Fatalf("window mismatch: got %v, want [%v,%v]", w, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestLoadOptionsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
region = "eu-west-1"
repos = ["/aws/app", "/aws/api"]
outformat = "table"
page_size = 200

[ingest]
repo = "/ingest/target"
separator = "^#"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("file over defaults", func(t *testing.T) {
		o, err := LoadOptions(path, env(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.Region != "eu-west-1" || o.OutFormat != "table" || o.PageSize != 200 {
			t.Fatalf("unexpected options: %+v", o)
		}
		if !reflect.DeepEqual(o.Repos, []string{"/aws/app", "/aws/api"}) {
			t.Fatalf("Repos = %v", o.Repos)
		}
		if o.Ingest.Repo != "/ingest/target" || o.Ingest.Separator != "^#" || o.Ingest.Encoding != "auto" {
			t.Fatalf("Ingest = %+v", o.Ingest)
		}
		if o.RawField != "@rawstring" || o.Color != "auto" {
			t.Fatalf("defaults lost: %+v", o)
		}
	})

	t.Run("env over file", func(t *testing.T) {
		o, err := LoadOptions(path, env(map[string]string{
			"HC_REPOS":     "x, y",
			"HC_PAGE_SIZE": "50",
			"HC_SYNC":      "true",
			"AWS_REGION":   "us-east-1",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(o.Repos, []string{"x", "y"}) || o.PageSize != 50 || !o.Sync {
			t.Fatalf("env not applied: %+v", o)
		}
		if o.Region != "eu-west-1" {
			t.Fatalf("AWS_REGION must not override the config file, got %q", o.Region)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		o, err := LoadOptions(filepath.Join(dir, "nope.toml"), env(map[string]string{"AWS_REGION": "ap-northeast-1"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.Region != "ap-northeast-1" || o.PageSize != 500 {
			t.Fatalf("unexpected options: %+v", o)
		}
	})

	t.Run("bad env", func(t *testing.T) {
		if _, err := LoadOptions("", env(map[string]string{"HC_PAGE_SIZE": "many"})); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("bad file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		if err := os.WriteFile(bad, []byte("region = "), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadOptions(bad, env(nil)); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestConfigPath(t *testing.T) {
	if got := ConfigPath(env(map[string]string{"HC_CONFIG": "/tmp/hc.toml"})); got != "/tmp/hc.toml" {
		t.Fatalf("ConfigPath() = %q", got)
	}
	t.Setenv("HOME", "/home/someone")
	if got := ConfigPath(env(nil)); got != filepath.Join("/home/someone", ".config", "hc", "config.toml") {
		t.Fatalf("ConfigPath() = %q", got)
	}
}

func TestLoadOptionsWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("start = \"-7d@d\"\nend = \"@d\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name      string
		path      string
		env       map[string]string
		wantStart string
		wantEnd   string
	}{
		{"defaults", "", nil, DefaultStart, DefaultEnd},
		{"file", path, nil, "-7d@d", "@d"},
		{"env over file", path, map[string]string{"HC_START": "-1h", "HC_END": "now"}, "-1h", "now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := LoadOptions(tt.path, env(tt.env))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o.Start != tt.wantStart || o.End != tt.wantEnd {
				t.Fatalf("window = %q..%q, want %q..%q", o.Start, o.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestResolveColor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tests := []struct {
		mode    string
		want    bool
		wantErr bool
	}{
		{"always", true, false},
		{"NEVER", false, false},
		{"auto", false, false},
		{"", false, false},
		{"sometimes", false, true},
	}
	for _, tt := range tests {
		got, err := ResolveColor(tt.mode, f.Fd())
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ResolveColor(%q) = (%v, %v), want %v", tt.mode, got, err, tt.want)
		}
	}
}

func TestParseInjectedFields(t *testing.T) {
	got, err := ParseInjectedFields(`{"host":"web-1","port":8080,"tags":{"env":"prod"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"host": "web-1", "port": "8080", "tags.env": "prod"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseInjectedFields = %v, want %v", got, want)
	}
	if got, err := ParseInjectedFields(""); err != nil || got != nil {
		t.Fatalf("empty input = (%v, %v)", got, err)
	}
	_, err = ParseInjectedFields(`["not","object"]`)
	if ExitCode(err) != 2 {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestReadFieldsDocument(t *testing.T) {
	v, err := ReadFieldsDocument("-", strings.NewReader(`{"SUBSEARCH":"x"}`+"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m, ok := v.(map[string]any); !ok || m["SUBSEARCH"] != "x" {
		t.Fatalf("unexpected document: %#v", v)
	}
	if _, err := ReadFieldsDocument(`{"a":`, nil); ExitCode(err) != 2 {
		t.Fatalf("expected usage error, got %v", err)
	}
}
