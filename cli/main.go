package main

import "southwinds.dev/citadel/cli/cmd"

func main() {
	cmd.Execute()
}
