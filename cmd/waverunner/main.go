package main

import (
	"os"

	"github.com/randalmurphal/waverunner/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
