package main

import (
	"os"

	"github.com/hlub/entrypoint/cli"
)

func main() {
	var c cli.CLI

	os.Exit(c.Run(os.Args[1:]))
}
