package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bianoble/codemod-runner/internal/config"
)

var initForce bool

// initTemplate is the default codemod-runner.yaml scaffold.
const initTemplate = `# codemod-runner configuration
version: 1

# Codemod to run when 'codemod-runner run' gets no arguments.
# See 'codemod-runner list' for the built-in ones.
codemod: replace

# Directory or file to run on, relative to this file.
target: .

arguments:
  from: oldName
  to: newName

# Files a per-file codemod visits (doublestar globs relative to target).
include:
  - "**/*.go"
exclude:
  - "vendor/**"
  - ".git/**"

# workers: 8                  # default: number of CPUs
# worker_mode: inprocess      # or "process" to isolate each worker
# worker_timeout: 10s         # a worker busy this long on one file is replaced
# scan_interval: 1s
# stale_policy: retry         # or "report"
# max_attempts: 3

# dry_run: true               # stage new content instead of writing it
# format: true                # gofmt Go files, normalize trailing newlines
# log_dir: .codemod-runs      # default: ~/.local/state/codemod-runner
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter codemod-runner.yaml configuration",
	Long: `Creates a codemod-runner.yaml file in the current directory with a
commented template covering the codemod, its arguments, file selection and
the worker pool settings.

Use --force to overwrite an existing configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		if outPath == "" {
			outPath = config.FileName
		}
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		info("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Pick a codemod and its arguments ('codemod-runner list')")
		info("  2. Run 'codemod-runner run --dry-run' and review with 'codemod-runner inspect --diff'")
		info("  3. Run 'codemod-runner run' to apply the changes")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
