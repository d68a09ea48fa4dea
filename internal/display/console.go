// Package display renders operator-facing output: status lines, per-target
// prefixes and the live progress counter.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var (
	colorInfo      = color.New(color.FgBlue, color.Bold).SprintFunc()
	colorSuccess   = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorFail      = color.New(color.FgRed, color.Bold).SprintFunc()
	colorHighlight = color.New(color.FgYellow, color.Bold).SprintFunc()
	colorProto     = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Console serializes writes from concurrent workers. While a progress line is
// on screen, regular lines are printed above it and the progress line is
// redrawn.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	inline string
}

// NewConsole writes to w, or stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{out: w}
}

// Display prints an informational line.
func (c *Console) Display(format string, args ...any) {
	c.line(colorInfo("[*]") + " " + fmt.Sprintf(format, args...))
}

// Success prints a positive result.
func (c *Console) Success(format string, args ...any) {
	c.line(colorSuccess("[+]") + " " + fmt.Sprintf(format, args...))
}

// Fail prints a negative result.
func (c *Console) Fail(format string, args ...any) {
	c.line(colorFail("[-]") + " " + fmt.Sprintf(format, args...))
}

// Highlight marks s for attention.
func Highlight(s string) string {
	return colorHighlight(s)
}

// Print writes a line without a status marker.
func (c *Console) Print(format string, args ...any) {
	c.line(fmt.Sprintf(format, args...))
}

// For returns a writer whose lines carry the target prefix.
func (c *Console) For(proto, addr string, port int, hostname string) *TargetConsole {
	return &TargetConsole{
		console: c,
		prefix:  fmt.Sprintf("%-7s %-15s %-5d %s", colorProto(strings.ToUpper(proto)), addr, port, hostname),
	}
}

func (c *Console) line(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inline != "" {
		fmt.Fprintf(c.out, "\r%s\r", strings.Repeat(" ", len(c.inline)))
	}
	fmt.Fprintln(c.out, s)
	if c.inline != "" {
		fmt.Fprint(c.out, c.inline)
	}
}

// redraw replaces the current inline line.
func (c *Console) redraw(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pad := ""
	if n := len(c.inline) - len(s); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(c.out, "\r"+s+pad)
	c.inline = s
}

// release terminates the inline line so later output starts on a fresh row.
func (c *Console) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inline != "" {
		fmt.Fprintln(c.out)
		c.inline = ""
	}
}

// TargetConsole prefixes each line with the protocol and target.
type TargetConsole struct {
	console *Console
	prefix  string
}

func (t *TargetConsole) Display(format string, args ...any) {
	t.console.line(t.prefix + "  " + colorInfo("[*]") + " " + fmt.Sprintf(format, args...))
}

func (t *TargetConsole) Success(format string, args ...any) {
	t.console.line(t.prefix + "  " + colorSuccess("[+]") + " " + fmt.Sprintf(format, args...))
}

func (t *TargetConsole) Fail(format string, args ...any) {
	t.console.line(t.prefix + "  " + colorFail("[-]") + " " + fmt.Sprintf(format, args...))
}

func (t *TargetConsole) Print(format string, args ...any) {
	t.console.line(t.prefix + "  " + fmt.Sprintf(format, args...))
}
