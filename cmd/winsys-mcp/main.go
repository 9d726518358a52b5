// Command winsys-mcp runs the window-system MCP server over stdio, SSE or
// WebSocket and shuts it down cleanly on SIGINT, SIGTERM or EOF.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitCode is the process exit status chosen by the command that ran.
var exitCode int

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "winsys-mcp",
		Short:         "Window-system MCP server with graceful shutdown",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "winsys-mcp", version)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "winsys-mcp:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
