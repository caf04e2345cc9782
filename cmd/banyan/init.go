package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banyanhq/banyan/internal/config"
)

var (
	initForce     bool
	initNoProject bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold banyan configuration",
	Long: `Set up everything needed to run banyan:
  - User config at ~/.config/banyan/config.yaml with the default knobs
  - Tool-server registry at ~/.config/banyan/servers.yaml wired to the
    built-in filesystem and shell servers
  - A project .banyan.yaml template with the danger_gate section

Existing files are left alone unless --force is given.

Examples:
  banyan init              # Scaffold user config and project template
  banyan init --force      # Overwrite existing configuration files
  banyan init --no-project # Skip the project .banyan.yaml`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration files")
	initCmd.Flags().BoolVar(&initNoProject, "no-project", false, "Skip creating the project .banyan.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println("Initializing banyan...")
	fmt.Println()

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	if err := writeUserConfig(); err != nil {
		printStatus("✗", "user config", color.FgRed)
		return err
	}
	if err := writeServersFile(); err != nil {
		printStatus("✗", "tool-server registry", color.FgRed)
		return err
	}
	if !initNoProject {
		if err := writeProjectConfig(); err != nil {
			printStatus("✗", "project config", color.FgRed)
			return err
		}
	}

	fmt.Println()
	fmt.Println("Done. Try: banyan run \"list the largest files in this directory\"")
	return nil
}

func writeUserConfig() error {
	path := config.GetUserConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		printStatus("·", fmt.Sprintf("user config exists at %s", path), color.FgWhite)
		return nil
	}
	if err := config.Save(config.Default()); err != nil {
		return fmt.Errorf("writing user config: %w", err)
	}
	printStatus("✓", fmt.Sprintf("wrote %s", path), color.FgGreen)
	return nil
}

func writeServersFile() error {
	path := config.GetServersFilePath()
	if _, err := os.Stat(path); err == nil && !initForce {
		printStatus("·", fmt.Sprintf("registry exists at %s", path), color.FgWhite)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	content := fmt.Sprintf(`# Tool servers banyan may call. Each entry is either a subprocess pipe
# (transport: stdio) or a local network endpoint (transport: sse).
servers:
  - server_id: filesystem
    transport: stdio
    command: banyan
    args: ["tools", "serve", "filesystem", "--allow-dir", %q]
  - server_id: shell
    transport: stdio
    command: banyan
    args: ["tools", "serve", "shell", "--allow-dir", %q]
`, home, home)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	printStatus("✓", fmt.Sprintf("wrote %s", path), color.FgGreen)
	return nil
}

func writeProjectConfig() error {
	path := ".banyan.yaml"
	if _, err := os.Stat(path); err == nil && !initForce {
		printStatus("·", "project .banyan.yaml exists", color.FgWhite)
		return nil
	}

	content := `# Project-level banyan configuration. Values here override the user
# config at ~/.config/banyan/config.yaml.

# orchestrator:
#   max_attempts: 3
#   max_depth: 5
#   escalation:
#     base: 0.1
#     step: 0.2
#     cap: 1.0

# Calls matching a deny pattern or keyword are held for approval before
# they run. Allow patterns carve out safe exceptions.
danger_gate:
  deny_patterns:
    - "rm -rf /"
    - "mkfs"
    - "dd if="
  deny_keywords:
    - "/etc/shadow"
    - "id_rsa"
  allow_patterns: []
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	printStatus("✓", "wrote .banyan.yaml", color.FgGreen)
	return nil
}

// printStatus prints a colored status line.
func printStatus(symbol, message string, attr color.Attribute) {
	color.New(attr).Printf("%s %s\n", symbol, message)
}
