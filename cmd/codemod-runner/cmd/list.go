package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bianoble/codemod-runner/internal/codemods"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in codemods",
	Long: `Lists every codemod the runner ships with, whether it runs as one tree
traversal or per file, and the arguments it reads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%-14s %-9s %s\n", "CODEMOD", "MODE", "DESCRIPTION")
		for _, c := range codemods.Builtin().List() {
			fmt.Printf("%-14s %-9s %s\n", c.Name, c.Mode, c.Description)
			if !verbose {
				continue
			}
			keys := make([]string, 0, len(c.Arguments))
			for k := range c.Arguments {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-14s   --arg %s=...  %s\n", "", k, c.Arguments[k])
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
