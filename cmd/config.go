package cmd

import (
	"time"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// applyConfigDefaults merges config file values into run when the operator
// did not set the corresponding flag.
func applyConfigDefaults(flags *pflag.FlagSet, run *config.Run) {
	if viper.IsSet("workspace") {
		if ws := viper.GetString("workspace"); ws != "" {
			run.Workspace = ws
		}
	}

	if viper.IsSet("defaults.threads") {
		applyIntDefault(flags, "threads", viper.GetInt("defaults.threads"), func(v int) {
			if v > 0 {
				run.Threads = v
			}
		})
	}

	if viper.IsSet("defaults.timeout_secs") {
		applyIntDefault(flags, "timeout", viper.GetInt("defaults.timeout_secs"), func(v int) {
			if v > 0 {
				run.Timeout = time.Duration(v) * time.Second
			}
		})
	}

	if viper.IsSet("ignore_opsec") {
		applyBoolDefault(flags, "ignore-opsec", viper.GetBool("ignore_opsec"), func(v bool) {
			run.Policy.IgnoreOpsec = v
		})
	}

	if viper.IsSet("server.host") {
		setStringFlagIfUnset(flags, "server-host", viper.GetString("server.host"))
	}
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyBoolDefault(flags *pflag.FlagSet, name string, value bool, setter func(bool)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
