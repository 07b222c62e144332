package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/codemod-runner/internal/engine"
)

var (
	inspectFollow bool
	inspectDiff   bool
	inspectOutput string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <run-dir|run-log>",
	Short: "Print the case and jobs recorded in a run-log",
	Long: `Decodes a run-log, verifying every record checksum and the rolling
checksum that seals the log. Accepts a run directory or the case.data file
inside it.

Use --follow to tail a log that is still being written, and --diff to show
what each recorded change does to the file as it is now.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var asYAML bool
		switch inspectOutput {
		case "text":
		case "yaml":
			asYAML = true
		default:
			return fmt.Errorf("unknown output format %q (want text or yaml)", inspectOutput)
		}

		opts := engine.InspectOptions{
			Path:   args[0],
			Follow: inspectFollow,
			Diff:   inspectDiff,
		}
		headerPrinted := false
		if !asYAML && inspectFollow {
			opts.OnCase = func(c engine.CaseView) {
				printCase(c)
				headerPrinted = true
			}
			opts.OnJob = printJob
		}

		eng := &engine.InspectEngine{}
		result, err := eng.Inspect(commandContext(cmd), opts)
		if err != nil {
			return err
		}

		if asYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(result)
		}

		if !headerPrinted {
			printCase(result.Case)
		}
		if !inspectFollow {
			for _, j := range result.Jobs {
				printJob(j)
			}
		}
		fmt.Println()
		state := "sealed"
		if !result.Sealed {
			state = "not sealed (interrupted)"
		}
		fmt.Printf("%d job(s), log %s\n", len(result.Jobs), state)
		return nil
	},
}

func printCase(c engine.CaseView) {
	fmt.Printf("case %s\n", c.CaseDigest)
	fmt.Printf("  codemod:  %s\n", c.CodemodDigest)
	fmt.Printf("  created:  %s\n", c.CreatedAt)
	fmt.Printf("  target:   %s\n", c.TargetPath)
	if len(c.Arguments) > 0 {
		out, err := yaml.Marshal(c.Arguments)
		if err == nil {
			fmt.Println("  arguments:")
			for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}
	fmt.Println()
}

func printJob(j engine.JobView) {
	switch {
	case j.TargetPath != "":
		fmt.Printf("%-18s %s -> %s\n", j.Kind, j.Path, j.TargetPath)
	default:
		fmt.Printf("%-18s %s\n", j.Kind, j.Path)
	}
	if verbose && j.DataRef != "" {
		fmt.Printf("  data: %s\n", j.DataRef)
	}
	if j.Diff != "" {
		fmt.Print(j.Diff)
	}
}

func init() {
	inspectCmd.Flags().BoolVarP(&inspectFollow, "follow", "f", false, "tail a run-log that is still being written")
	inspectCmd.Flags().BoolVar(&inspectDiff, "diff", false, "show a unified diff for each change")
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(inspectCmd)
}
