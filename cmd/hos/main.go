package main

import (
	"os"

	"github.com/astrodata/hos/cmd/hos/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
