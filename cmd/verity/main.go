package main

import (
	"os"

	"github.com/dativo-io/verity/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
