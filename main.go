package main

import "github.com/RomanRII/NetExec/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
