// Package printer writes colored status output for CLI commands.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
)

const (
	reset     = "\033[0m"
	red       = "\033[38;2;215;95;107m"
	green     = "\033[38;2;158;206;106m"
	yellow    = "\033[38;2;224;175;104m"
	gray      = "\033[38;2;86;95;137m"
	bold      = "\033[1m"
	underline = "\033[4m"
)

// Status symbols.
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
)

type ctxKey struct{}

// Printer writes human-facing output. Logs go through zerolog; a Printer is for
// results and next steps.
type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// NewContext attaches p to ctx.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the Printer attached to ctx, or one writing to stderr.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

func paint(color, text string) string {
	return color + text + reset
}

func (p *Printer) line(s string) {
	_, _ = io.WriteString(p.w, s+"\n")
}

// box prints a titled block with a red gutter.
func (p *Printer) box(title string, rows []string) {
	p.line(paint(red, "╭ "+title))
	for _, r := range rows {
		if r == "" {
			p.line(paint(red, "│"))
			continue
		}
		p.line(paint(red, "│") + " " + r)
	}
	p.line(paint(red, "╵"))
}

// FatalError prints err in a box. Field errors are listed one per row with the
// surrounding context as a header. It does not exit.
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fields criterio.FieldErrors
	if !errors.As(err, &fields) {
		p.box("Error", []string{paint(gray, err.Error())})
		return
	}

	var rows []string
	full, inner := err.Error(), fields.Error()
	if i := strings.Index(full, inner); i > 0 {
		rows = append(rows, paint(gray, strings.TrimSuffix(full[:i], ": ")), "")
	}
	for _, fe := range fields {
		row := paint(red, Cross) + " "
		if fe.Field != "" {
			row += paint(gray, fe.Field+": ")
		}
		rows = append(rows, row+fe.Err.Error())
	}
	p.box("Validation Error", rows)
}

func (p *Printer) Errorf(format string, args ...any) {
	p.line(paint(red, Cross+" "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Successf(format string, args ...any) {
	p.line(paint(green, Check+" "+fmt.Sprintf(format, args...)))
}

// Created reports a new resource with its id on a second, dimmed line.
func (p *Printer) Created(message, id string) {
	p.Successf("%s", message)
	if id != "" {
		p.line("  " + paint(gray, id))
	}
}

func (p *Printer) Infof(format string, args ...any) {
	p.line(paint(gray, Dot+" "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Warnf(format string, args ...any) {
	p.line(paint(yellow, Dot+" "+fmt.Sprintf(format, args...)))
}

// Printf prints an uncolored line.
func (p *Printer) Printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

// Hint prints an indented follow-up, e.g. the command to run next.
func (p *Printer) Hint(format string, args ...any) {
	p.line("  " + paint(gray, fmt.Sprintf(format, args...)))
}

// Section prints a heading for a group of items.
func (p *Printer) Section(title string) {
	p.line(bold + underline + title + reset)
}

func (p *Printer) CheckItem(label, detail string) { p.item(green, Check, label, detail) }
func (p *Printer) WarnItem(label, detail string)  { p.item(yellow, Dot, label, detail) }
func (p *Printer) FailItem(label, detail string)  { p.item(red, Cross, label, detail) }

func (p *Printer) item(color, symbol, label, detail string) {
	s := "  " + paint(color, symbol) + " " + label
	if detail != "" {
		s += ": " + detail
	}
	p.line(s)
}

// Dim renders secondary text for table cells.
func Dim(text string) string { return paint(gray, text) }

// Highlight renders text that should stand out in a table.
func Highlight(text string) string { return paint(green, text) }
