package cmd

import "github.com/fatih/color"

var (
	colorInfo  = color.New(color.FgCyan).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
	colorError = color.New(color.FgRed).SprintFunc()
)
