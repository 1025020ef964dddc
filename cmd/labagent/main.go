package main

import (
	"os"

	"github.com/melih/lab-agent/internal/errors"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
