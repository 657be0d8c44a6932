package main

import "github.com/khanhnv2901/poc-cli/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
