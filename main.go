package main

import (
	"os"

	"github.com/openagents/a2a-engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
