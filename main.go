package main

import "github.com/loco-cli/loco/cmd"

func main() {
	cmd.Execute()
}
