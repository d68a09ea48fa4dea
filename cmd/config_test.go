package cmd

import (
	"testing"
	"time"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newDefaultsFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("threads", 256, "")
	fs.Int("timeout", 10, "")
	fs.Bool("ignore-opsec", false, "")
	fs.String("server-host", "0.0.0.0", "")
	return fs
}

func TestApplyConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("workspace", "client-a")
	viper.Set("defaults.threads", 32)
	viper.Set("defaults.timeout_secs", 3)
	viper.Set("ignore_opsec", true)
	viper.Set("server.host", "127.0.0.1")

	fs := newDefaultsFlagSet()
	run := config.New()
	applyConfigDefaults(fs, run)

	if run.Workspace != "client-a" {
		t.Fatalf("expected workspace client-a, got %s", run.Workspace)
	}
	if run.Threads != 32 {
		t.Fatalf("expected 32 threads, got %d", run.Threads)
	}
	if run.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", run.Timeout)
	}
	if !run.Policy.IgnoreOpsec {
		t.Fatal("expected ignore_opsec to apply")
	}
	if got, _ := fs.GetString("server-host"); got != "127.0.0.1" {
		t.Fatalf("expected server-host from config, got %s", got)
	}
}

func TestApplyConfigDefaultsRespectsFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("defaults.threads", 32)
	viper.Set("server.host", "127.0.0.1")

	fs := newDefaultsFlagSet()
	if err := fs.Parse([]string{"--threads", "4", "--server-host", "10.1.1.1"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	run := config.New()
	run.Threads = 4
	applyConfigDefaults(fs, run)

	if run.Threads != 4 {
		t.Fatalf("flag value should win, got %d", run.Threads)
	}
	if got, _ := fs.GetString("server-host"); got != "10.1.1.1" {
		t.Fatalf("flag value should win, got %s", got)
	}
}

func TestApplyIntDefaultNilSafe(t *testing.T) {
	called := false
	applyIntDefault(nil, "threads", 1, func(int) { called = true })
	if called {
		t.Fatal("setter must not run without a flag set")
	}
	applyBoolDefault(newDefaultsFlagSet(), "ignore-opsec", true, nil)
	setStringFlagIfUnset(nil, "server-host", "x")
}
