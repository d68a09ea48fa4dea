package cmd

import (
	"bytes"
	"testing"

	"github.com/RomanRII/NetExec/internal/gate"
	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

type stubPrompter struct {
	answer bool
	asked  []string
}

func (p *stubPrompter) Confirm(question string) (bool, error) {
	p.asked = append(p.asked, question)
	return p.answer, nil
}

// setupTestCommand points the data directory at a temp dir and captures
// operator output. Stdin and stdout are reported as non-interactive.
func setupTestCommand(t *testing.T) (*bytes.Buffer, *stubPrompter) {
	t.Helper()

	t.Setenv(dataDirEnvVar, t.TempDir())

	buf := &bytes.Buffer{}
	prompter := &stubPrompter{}

	origStdout, origStdin, origTerm, origPrompter := stdout, stdinInteractive, stdoutInteractive, newPrompter
	stdout = buf
	stdinInteractive = func() bool { return false }
	stdoutInteractive = func() bool { return false }
	newPrompter = func() gate.Prompter { return prompter }

	t.Cleanup(func() {
		stdout, stdinInteractive, stdoutInteractive, newPrompter = origStdout, origStdin, origTerm, origPrompter
		logger = nil
	})
	return buf, prompter
}
