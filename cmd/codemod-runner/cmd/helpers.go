package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/codemod-runner/internal/config"
)

// loadConfig reads and merges every config layer. Without --config the
// project config is the nearest one above start, the run target. A missing
// project config yields an empty version 1 config.
func loadConfig(start string) (*config.Config, []config.ConfigLayerInfo, error) {
	opts := config.DiscoverOptions{ProjectPath: configPath, Start: start}
	cfg, layers, err := config.LoadLayers(opts, noInherit || config.EnvNoInherit())
	if err != nil {
		return nil, layers, fmt.Errorf("loading config: %w", err)
	}
	return cfg, layers, nil
}

// commandContext returns the context the command was executed with, or a
// background context when RunE is called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// projectRoot returns the directory of the project config layer, which
// config-relative paths resolve against.
func projectRoot(layers []config.ConfigLayerInfo) (string, error) {
	project, ok := config.Project(layers)
	if !ok {
		return os.Getwd()
	}
	abs, err := filepath.Abs(project.Dir())
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}
	return abs, nil
}

// parseArguments turns key=value pairs into codemod arguments. Values are
// parsed as YAML scalars, so numbers and booleans keep their type.
func parseArguments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q (want key=value)", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		if _, isMap := v.(map[string]any); isMap {
			v = value
		}
		if _, isList := v.([]any); isList {
			v = value
		}
		out[key] = v
	}
	return out, nil
}

// humanSize formats a byte count.
func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
