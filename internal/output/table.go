package output

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
)

const columnGap = "  "

var cellEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\t", `\t`)

type tableFormatter struct {
	out      *unitWriter
	pageSize int
	color    bool
}

func (f *tableFormatter) mode() Mode { return ModeTable }

// Format buffers at most one page of records, renders it with per-page
// column widths and releases it before pulling the next record.
func (f *tableFormatter) Format(ctx context.Context, s stream.Stream) (Summary, error) {
	var sum Summary
	page := make([]model.Record, 0, f.pageSize)

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		sum.Pages++
		err := f.out.emit(RenderTable(page, f.color))
		clear(page)
		page = page[:0]
		return err
	}

	for {
		r, err := stream.Pull(ctx, s, sum.Records)
		if errors.Is(err, io.EOF) {
			return sum, flush()
		}
		if err != nil {
			// render what was already pulled, then report why we stopped
			if ferr := flush(); ferr != nil {
				return sum, ferr
			}
			return sum, err
		}
		sum.Records++
		page = append(page, r)
		if len(page) > sum.PeakBuffered {
			sum.PeakBuffered = len(page)
		}
		if len(page) == f.pageSize {
			if err := flush(); err != nil {
				return sum, err
			}
		}
	}
}

// RenderTable renders records as an aligned text table. Columns are the
// union of record fields in first-seen order; missing cells are empty.
func RenderTable(records []model.Record, color bool) []byte {
	var columns []string
	pos := make(map[string]int)
	for _, r := range records {
		for _, f := range r.Fields() {
			if _, ok := pos[f.Name]; !ok {
				pos[f.Name] = len(columns)
				columns = append(columns, f.Name)
			}
		}
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = runewidth.StringWidth(c)
	}
	cells := make([][]string, len(records))
	for i, r := range records {
		row := make([]string, len(columns))
		for _, f := range r.Fields() {
			j := pos[f.Name]
			row[j] = cellEscaper.Replace(f.Value.String())
			if w := runewidth.StringWidth(row[j]); w > widths[j] {
				widths[j] = w
			}
		}
		cells[i] = row
	}

	var header func(string) string
	if color {
		style := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(termenv.ANSI256)).NewStyle().Bold(true)
		header = func(s string) string { return style.Render(s) }
	}

	var buf bytes.Buffer
	rule := make([]string, len(columns))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	writeRow(&buf, columns, widths, header)
	writeRow(&buf, rule, widths, nil)
	for _, row := range cells {
		writeRow(&buf, row, widths, nil)
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, cells []string, widths []int, style func(string) string) {
	last := len(cells) - 1
	for last >= 0 && cells[last] == "" {
		last--
	}
	for i := 0; i <= last; i++ {
		if i > 0 {
			buf.WriteString(columnGap)
		}
		cell := cells[i]
		if style != nil {
			cell = style(cell)
		}
		buf.WriteString(cell)
		if i < last {
			buf.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cells[i])))
		}
	}
	buf.WriteByte('\n')
}
