package main

import (
	"os"

	"github.com/dgrissen2/plannotator-ext/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
