// Package gate decides whether risky module runs and destructive protocol
// actions may proceed. Decide is pure; prompting lives behind Prompter.
package gate

import (
	"context"
	"fmt"

	"github.com/RomanRII/NetExec/internal/module"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"go.uber.org/zap"
)

// Decision is the outcome of one check.
type Decision int

const (
	Confirm Decision = iota
	Deny
	NeedsPrompt
)

func (d Decision) String() string {
	switch d {
	case Confirm:
		return "confirm"
	case Deny:
		return "deny"
	case NeedsPrompt:
		return "prompt"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Reason names the capability a check is about.
type Reason int

const (
	OpsecUnsafe Reason = iota
	SingleHost
)

// Check is one gate a module has to pass.
type Check struct {
	Reason   Reason
	Decision Decision
	// Ignored is set when an opsec check was confirmed by policy.
	Ignored bool
}

// Policy is the run-wide gate configuration.
type Policy struct {
	IgnoreOpsec bool
	// NonInteractive turns every prompt into a denial.
	NonInteractive bool
}

const (
	opsecQuestion      = "[!] Module is not opsec safe, are you sure you want to run this? [Y/n] For global configuration, set ignore_opsec to true in nxc.yaml "
	singleHostQuestion = "[!] Running this module on multiple hosts doesn't really make any sense, are you sure you want to continue? [Y/n] "
)

// Decide evaluates caps against policy. Checks are returned in the order they
// must be resolved; an empty result means the module needs no confirmation.
func Decide(caps module.Capabilities, p Policy, targetCount int) []Check {
	var checks []Check
	if !caps.OpsecSafe {
		switch {
		case p.IgnoreOpsec:
			checks = append(checks, Check{Reason: OpsecUnsafe, Decision: Confirm, Ignored: true})
		case p.NonInteractive:
			checks = append(checks, Check{Reason: OpsecUnsafe, Decision: Deny})
		default:
			checks = append(checks, Check{Reason: OpsecUnsafe, Decision: NeedsPrompt})
		}
	}
	if !caps.MultipleHosts && targetCount > 1 {
		d := NeedsPrompt
		if p.NonInteractive {
			d = Deny
		}
		checks = append(checks, Check{Reason: SingleHost, Decision: d})
	}
	return checks
}

// Gate resolves checks, prompting through Prompter when needed.
type Gate struct {
	Policy   Policy
	Prompter Prompter
	Log      *zap.SugaredLogger
}

func (g *Gate) logger() *zap.SugaredLogger {
	if g.Log == nil {
		return zap.NewNop().Sugar()
	}
	return g.Log
}

// Approve runs every check for m. A denial or a declined prompt returns an
// error wrapping ErrDeclined; cancellation while a prompt is pending
// returns ctx.Err().
func (g *Gate) Approve(ctx context.Context, m *module.Loaded, targetCount int) error {
	for _, c := range Decide(m.Caps, g.Policy, targetCount) {
		question := opsecQuestion
		if c.Reason == SingleHost {
			question = singleHostQuestion
		}
		switch c.Decision {
		case Confirm:
			if c.Ignored {
				g.logger().Infow("ignore_opsec is set, skipping prompt", "module", m.Name())
			}
		case Deny:
			return fmt.Errorf("%w: %s requires confirmation in a non-interactive session", sharedErrors.ErrDeclined, m.Name())
		case NeedsPrompt:
			if err := g.ask(ctx, question); err != nil {
				return fmt.Errorf("module %s: %w", m.Name(), err)
			}
		}
	}
	return nil
}

// ConfirmDestructive asks before a protocol action that can damage the target.
func (g *Gate) ConfirmDestructive(ctx context.Context, question string) error {
	if g.Policy.NonInteractive {
		return fmt.Errorf("%w: destructive action requires confirmation in a non-interactive session", sharedErrors.ErrDeclined)
	}
	return g.ask(ctx, question)
}

// ask returns as soon as ctx is done. A prompter blocked on a terminal read
// is abandoned; the process is about to tear down anyway.
func (g *Gate) ask(ctx context.Context, question string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.Prompter == nil {
		return fmt.Errorf("%w: no prompter available", sharedErrors.ErrDeclined)
	}

	type answer struct {
		ok  bool
		err error
	}
	answered := make(chan answer, 1)
	go func() {
		ok, err := g.Prompter.Confirm(question)
		answered <- answer{ok: ok, err: err}
	}()

	var a answer
	select {
	case <-ctx.Done():
		return ctx.Err()
	case a = <-answered:
	}
	if a.err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrDeclined, a.err)
	}
	if !a.ok {
		return sharedErrors.ErrDeclined
	}
	return nil
}
