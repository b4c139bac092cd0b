package main

import (
	"os"

	"github.com/tcfw/noise/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
