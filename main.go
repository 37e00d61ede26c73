package main

import (
	"os"

	"github.com/superxlabs/superx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
