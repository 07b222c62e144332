package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/engine"
	"github.com/bianoble/codemod-runner/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    engine.WorkerCommand,
	Short:  "Serve codemod jobs over stdin and stdout",
	Long:   `Runs one process worker. The host starts it and speaks JSON lines over its stdin and stdout.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worker.Serve(commandContext(cmd), os.Stdin, os.Stdout, codemods.Builtin(),
			worker.WithConsoleLevel(logLevel()))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
