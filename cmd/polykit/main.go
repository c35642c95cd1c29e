package main

import (
	"os"

	"github.com/polykit-dev/polykit/internal/cmd"
)

var version = "dev"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], version))
}
