package main

import "github.com/ppiankov/causalvault/internal/cli"

func main() {
	cli.Execute()
}
