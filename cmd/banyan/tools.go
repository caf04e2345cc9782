package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/banyanhq/banyan/internal/broker"
	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/toolserver"
)

var (
	toolsServeTransport string
	toolsServeAddr      string
	toolsServeAllowDirs []string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and host tool servers",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools offered by the configured servers",
	RunE:  runToolsList,
}

var toolsServeCmd = &cobra.Command{
	Use:   "serve <filesystem|shell>",
	Short: "Host a built-in tool server",
	Long: `Host one of the built-in MCP tool servers so a fresh install has
working file and command backends.

With the default stdio transport the server speaks over stdin/stdout and
is meant to be spawned from servers.yaml. With --transport sse it listens
as a local network endpoint instead.

Examples:
  banyan tools serve filesystem --allow-dir ~/projects
  banyan tools serve shell --transport sse --addr localhost:8812`,
	Args: cobra.ExactArgs(1),
	RunE: runToolsServe,
}

func init() {
	toolsServeCmd.Flags().StringVar(&toolsServeTransport, "transport", "stdio", "Transport: stdio or sse")
	toolsServeCmd.Flags().StringVar(&toolsServeAddr, "addr", "localhost:8811", "Listen address for --transport sse")
	toolsServeCmd.Flags().StringSliceVar(&toolsServeAllowDirs, "allow-dir", nil, "Directory the server may touch (repeatable; defaults to the working directory)")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsServeCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := broker.LoadRegistry(cfg.Broker.ServersFile)
	if err != nil {
		return fmt.Errorf("loading tool-server registry: %w", err)
	}
	defer registry.Close()

	b, err := broker.New(cfg.Broker, registry)
	if err != nil {
		return fmt.Errorf("building tool broker: %w", err)
	}
	defer b.Close()

	tools, err := b.Tools(cmd.Context())
	if err != nil {
		return fmt.Errorf("discovering tools: %w", err)
	}
	if len(tools) == 0 {
		fmt.Printf("No tools found. Add servers to %s or run 'banyan init'.\n", cfg.Broker.ServersFile)
		return nil
	}

	sort.Slice(tools, func(i, j int) bool {
		if tools[i].ServerID != tools[j].ServerID {
			return tools[i].ServerID < tools[j].ServerID
		}
		return tools[i].Name < tools[j].Name
	})

	fmt.Printf("%-14s %-20s %s\n", "SERVER", "TOOL", "DESCRIPTION")
	for _, t := range tools {
		fmt.Printf("%-14s %-20s %s\n", t.ServerID, t.Name, truncate(t.Description, 60))
	}
	return nil
}

func runToolsServe(cmd *cobra.Command, args []string) error {
	name := args[0]

	allowDirs := toolsServeAllowDirs
	if len(allowDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		allowDirs = []string{cwd}
	}

	switch toolsServeTransport {
	case "stdio":
		return toolserver.ServeStdio(name, allowDirs)
	case "sse":
		fmt.Fprintf(os.Stderr, "serving %s on %s\n", name, toolsServeAddr)
		return toolserver.ServeSSE(name, allowDirs, toolsServeAddr)
	default:
		return fmt.Errorf("unknown transport %q, want stdio or sse", toolsServeTransport)
	}
}
