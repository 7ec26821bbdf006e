// Command mcp-obsidian serves Obsidian vault tools over REST and MCP SSE.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggoodman/mcp-obsidian-go/config"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mcp-obsidian",
		Short:        "Obsidian vault tools over REST and MCP",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("env-file", ".env", "Path to a dotenv file; ignored when missing")
	root.SetVersionTemplate(fmt.Sprintf("mcp-obsidian version %s\n", version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newToolsCmd())
	return root
}

// loadConfig applies the persistent --env-file and --config flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	yamlFile, _ := cmd.Flags().GetString("config")

	opts := []config.Option{config.WithEnvFile(envFile)}
	if yamlFile != "" {
		opts = append(opts, config.WithYAMLFile(yamlFile))
	}
	return config.Load(opts...)
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}
