package main

import (
	"os"

	"github.com/amann-codes/quizbud/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
