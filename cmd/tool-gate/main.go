package main

import "github.com/Tool-Gate/Toolgate/cmd/tool-gate/cmd"

func main() {
	cmd.Execute()
}
