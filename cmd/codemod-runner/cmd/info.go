package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/staging"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the configuration and run logs",
	Long: `Displays the codemod-runner version, the config layers that were found,
the selected codemod and target, and the log directory with the number of
recorded runs and their total size.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, layers, err := loadConfig("")
		if err != nil {
			return err
		}

		fmt.Printf("codemod-runner %s\n", version)
		fmt.Println("  config chain:")
		for _, layer := range layers {
			status := "not found"
			if layer.Loaded {
				status = "loaded"
			}
			if layer.Searched {
				status += ", nearest to working directory"
			}
			fmt.Printf("    %-10s %s (%s)\n", string(layer.Level)+":", layer.Path, status)
		}

		codemod := cfg.Codemod
		if codemod == "" {
			codemod = "(none)"
		} else if _, ok := codemods.Builtin().Lookup(codemod); !ok {
			codemod += " (unknown)"
		}
		fmt.Printf("  codemod:       %s\n", codemod)
		if cfg.Target != "" {
			fmt.Printf("  target:        %s\n", cfg.Target)
		}

		logDir := cfg.LogDir
		if logDir == "" {
			logDir = staging.DefaultLogDir()
		}
		fmt.Printf("  log dir:       %s\n", logDir)

		entries, err := os.ReadDir(logDir)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Println("  runs:          0")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading log dir: %w", err)
		}

		var runs int
		for _, e := range entries {
			if e.IsDir() {
				runs++
			}
		}
		store, err := staging.New(logDir)
		if err != nil {
			return err
		}
		size, err := store.Size()
		if err != nil {
			return fmt.Errorf("measuring log dir: %w", err)
		}
		fmt.Printf("  runs:          %d\n", runs)
		fmt.Printf("  log size:      %s\n", humanSize(size))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
