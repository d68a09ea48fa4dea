package cmd

import (
	"errors"
	"fmt"

	"github.com/RomanRII/NetExec/internal/module"
)

// InvalidModuleOptionError reports a -o value that is not KEY=VALUE.
type InvalidModuleOptionError struct {
	Value string
}

func (e *InvalidModuleOptionError) Error() string {
	return fmt.Sprintf("module options must be KEY=VALUE, got %q", e.Value)
}

// describeError turns err into the one-line diagnostic shown before exiting.
func describeError(err error) string {
	var unknownModule *module.UnknownModuleError
	if errors.As(err, &unknownModule) {
		return fmt.Sprintf("Module not found: %s (use -L to list modules)", unknownModule.Name)
	}
	return err.Error()
}
