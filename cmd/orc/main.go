package main

import (
	"os"

	"github.com/saribmah/orchestrator/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
