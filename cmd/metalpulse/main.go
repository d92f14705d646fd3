package main

import (
	"os"

	"github.com/avikram/metalpulse/cmd/metalpulse/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
