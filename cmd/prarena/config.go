package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neulab/pr-arena/internal/config"
)

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage PR Arena configuration",
	Long: `Manage PR Arena configuration (tokens, model pool, notifications).

Configuration is stored in ~/.prarena/config.env and can be overridden
by environment variables.

  prarena config set KEY VALUE      Set a single config value
  prarena config show               Show current configuration
  prarena config path               Print config file path`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  prarena config set GITHUB_TOKEN ghp_xxxxxxxxxxxx`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display all configured values. Secrets are masked.",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// ---------------------------------------------------------------------------
// config set / config show
// ---------------------------------------------------------------------------

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := config.SetFileValue(config.FilePath(), key, value); err != nil {
		return fmt.Errorf("updating config: %w", err)
	}
	k, _ := config.LookupKey(key)
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, displayValue(k, value))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := config.FilePath()
	vals, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return showConfig(cmd.OutOrStdout(), path, vals)
}

// showConfig prints one row per known key with the value in effect and
// where it came from. Required keys are starred.
func showConfig(w io.Writer, path string, fileValues map[string]string) error {
	fmt.Fprintf(w, "Config file: %s\n\n", path)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, k := range config.Keys {
		name := k.Name
		if k.Required {
			name += " *"
		}
		value, source := "(not set)", "-"
		if v := os.Getenv(k.Name); v != "" {
			value, source = displayValue(k, v), "env"
		} else if v := fileValues[k.Name]; v != "" {
			value, source = displayValue(k, v), "file"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, value, source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "\n* required")
	return err
}

func displayValue(k config.Key, v string) string {
	if k.Secret {
		return redact(v)
	}
	return v
}

// redact hides all but the last four characters of s, and all of s when it
// is too short for that to be safe.
func redact(s string) string {
	const visible = 4
	if len(s) < 3*visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
