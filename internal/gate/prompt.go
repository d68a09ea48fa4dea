package gate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var colorPrompt = color.New(color.FgRed, color.Bold).SprintFunc()

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// TerminalPrompter reads answers line by line. An empty answer, "y" and "yes"
// confirm.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprint(p.out, colorPrompt(question))
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, err
	}
	return Accepted(line), nil
}

// Accepted reports whether answer confirms a prompt.
func Accepted(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	}
	return false
}

// Interactive reports whether f is attached to a terminal.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
