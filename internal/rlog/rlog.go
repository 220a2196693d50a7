// Package rlog is a small leveled, contextual logger in the shape of
// go-ethereum's log package (core/rawdb/freezer_table.go's
// "log.New(\"database\", path, \"table\", name)" call is the clearest example
// in this tree's retained code): a Logger carries a fixed slice of
// key/value context set at construction time, and each level method
// appends call-specific pairs on top of it. The upstream package itself
// wasn't part of the retained source tree, so this is a from-scratch
// adaptation of its observed call shape rather than a port -- see
// DESIGN.md.
package rlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "????"
	}
}

var levelColor = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger writes leveled, contextual log lines. The zero value logs with no
// context pairs; New attaches context.
type Logger struct {
	ctx []interface{}
}

var (
	mu       sync.Mutex
	out      io.Writer
	minLevel = LevelInfo
	colorize bool
)

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects every Logger's output to w, wrapping it through
// mattn/go-colorable so ANSI color codes render correctly on Windows
// consoles, and enabling color only when w is an interactive terminal
// (mattn/go-isatty), mirroring go-ethereum's TerminalFormat behavior.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if f, ok := w.(*os.File); ok {
		colorize = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		out = colorable.NewColorable(f)
		return
	}
	colorize = false
	out = w
}

// SetLevel sets the minimum level that will be written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// New returns a Logger whose every line is prefixed with the given
// key/value context pairs.
func New(ctx ...interface{}) Logger {
	return Logger{ctx: ctx}
}

// With returns a copy of l with additional context appended.
func (l Logger) With(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return Logger{ctx: merged}
}

func (l Logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug, msg, ctx) }
func (l Logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo, msg, ctx) }
func (l Logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn, msg, ctx) }
func (l Logger) Error(msg string, ctx ...interface{}) { l.write(LevelError, msg, ctx) }

func (l Logger) write(level Level, msg string, callCtx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}

	var b strings.Builder
	ts := time.Now().Format("2006-01-02T15:04:05.000Z0700")
	if colorize {
		c := levelColor[level]
		b.WriteString(c.Sprintf("%-5s", level))
	} else {
		fmt.Fprintf(&b, "%-5s", level)
	}
	fmt.Fprintf(&b, " [%s] %s", ts, msg)

	all := make([]interface{}, 0, len(l.ctx)+len(callCtx))
	all = append(all, l.ctx...)
	all = append(all, callCtx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	if level >= LevelWarn {
		// Attach the immediate caller for warnings and above, the same
		// "where did this come from" aid go-ethereum's log package
		// attaches via go-stack/stack at higher verbosity.
		call := stack.Caller(2)
		fmt.Fprintf(&b, " caller=%n@%s:%d", call, call, call)
	}
	b.WriteString("\n")
	io.WriteString(out, b.String())
}
