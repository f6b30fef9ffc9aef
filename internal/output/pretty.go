package output

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
)

// DefaultStyle is the highlighting style used by pretty.
const DefaultStyle = "paraiso-dark"

const prettyIndent = "    "

var (
	reTagSpace  = regexp.MustCompile(`\s*(<[^<>]+>)\s*`)
	reNamespace = regexp.MustCompile(` xmlns[^"']+['"][^"']+["']`)
	reNSPrefix  = regexp.MustCompile(`(</?)[^:<> ]{0,20}:`)
	reUnclosed  = regexp.MustCompile(`(<[^<>]+)(<)`)
	reMarkupTag = regexp.MustCompile(`<[^<>\[\s\d-][^>]*>`)
)

type prettyFormatter struct {
	out    *unitWriter
	color  bool
	style  *chroma.Style
	logger *zap.Logger
}

func newPrettyFormatter(out *unitWriter, opts Options) (*prettyFormatter, error) {
	name := opts.Style
	if name == "" {
		name = DefaultStyle
	}
	style, ok := styles.Registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown style %q", name)
	}
	return &prettyFormatter{out: out, color: opts.Color, style: style, logger: opts.Logger}, nil
}

func (f *prettyFormatter) mode() Mode { return ModePretty }

// Format writes the raw text of each record with any markup indented.
// Records without raw text fall back to their ndjson encoding.
func (f *prettyFormatter) Format(ctx context.Context, s stream.Stream) (Summary, error) {
	n, err := stream.Consume(ctx, s, func(r model.Record) error {
		var text string
		if raw, ok := r.Get(model.FieldRawString); ok && !raw.IsNull() {
			text = PrettyMarkup(raw.String())
		} else {
			b, err := r.MarshalJSON()
			if err != nil {
				return err
			}
			text = string(b)
		}
		if f.color {
			text = f.highlight(text)
		}
		return f.out.emit([]byte(text + "\n"))
	})
	return Summary{Records: n}, err
}

func (f *prettyFormatter) highlight(text string) string {
	name := "xml"
	if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		name = "json"
	}
	lexer := lexers.Get(name)
	if lexer == nil {
		return text
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		f.logger.Debug("highlighting failed", zap.Error(err))
		return text
	}
	var b strings.Builder
	if err := formatters.TTY256.Format(&b, f.style, it); err != nil {
		f.logger.Debug("highlighting failed", zap.Error(err))
		return text
	}
	return strings.TrimRight(b.String(), "\n")
}

type markupPart struct {
	text string
	tag  bool
}

// PrettyMarkup indents text that looks like XML, one element per line,
// after dropping namespace declarations and prefixes. It does not parse:
// malformed or partial markup is indented on a best effort basis, and text
// without tags is returned unchanged.
func PrettyMarkup(raw string) string {
	if !reMarkupTag.MatchString(raw) {
		return raw
	}
	s := reTagSpace.ReplaceAllString(raw, "${1}")
	s = reNamespace.ReplaceAllString(s, "")
	s = reNSPrefix.ReplaceAllString(s, "${1}")

	// an unclosed "<" before the first tag is kept as is
	preface := ""
	if loc := reUnclosed.FindStringSubmatchIndex(s); loc != nil {
		preface, s = s[:loc[3]], s[loc[4]:]
	}

	var parts []markupPart
	last := 0
	for _, m := range reMarkupTag.FindAllStringIndex(s, -1) {
		if m[0] > last {
			parts = append(parts, markupPart{text: s[last:m[0]]})
		}
		parts = append(parts, markupPart{text: s[m[0]:m[1]], tag: true})
		last = m[1]
	}
	if last < len(s) {
		parts = append(parts, markupPart{text: s[last:]})
	}

	var b strings.Builder
	b.WriteString(preface)
	depth := 0
	prev := ""
	for _, p := range parts {
		afterClose := strings.HasPrefix(prev, "</") || strings.HasSuffix(prev, "/>")
		switch {
		case !p.tag:
			if afterClose {
				b.WriteByte('\n')
			}
			b.WriteString(p.text)
		case p.text[1] == '/':
			if depth > 0 {
				depth--
			}
			if afterClose {
				b.WriteString("\n" + strings.Repeat(prettyIndent, depth))
			}
			b.WriteString(p.text)
		case p.text[1] == '?':
			b.WriteString(strings.Repeat(prettyIndent, depth) + p.text)
		case p.text[len(p.text)-2] == '/':
			b.WriteString("\n" + strings.Repeat(prettyIndent, depth) + p.text)
		case p.text[1] == '!':
			b.WriteString(p.text)
		default:
			b.WriteString("\n" + strings.Repeat(prettyIndent, depth) + p.text)
			depth++
		}
		prev = p.text
	}
	return strings.TrimLeft(b.String(), "\n")
}
