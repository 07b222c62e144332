package main

import (
	"os"

	"github.com/bianoble/codemod-runner/cmd/codemod-runner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
