package cli

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/adapters/driving/mcp"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol server",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the keeper to AI assistants",
	Long: `Serves put, get, find and tag as MCP tools, plus the collections,
recent documents and document summaries as resources.

Stdio is used by default. --http listens for streamable HTTP instead,
on loopback unless a host is given.

  keep mcp serve
  keep mcp serve --http :8765
  keep -c work mcp serve

Assistant configuration:
  {"mcpServers": {"keep": {"command": "keep", "args": ["mcp", "serve"]}}}`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "listen address for streamable HTTP (default stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	server, err := mcp.NewServer(&mcp.Ports{
		Keeper:     keeperService,
		Collection: collectionFlag,
	})
	if err != nil {
		if keeperErr != nil {
			return keeperErr
		}
		return err
	}

	if mcpHTTPAddr == "" {
		return server.Run(cmd.Context())
	}

	l, err := net.Listen("tcp", loopbackAddr(mcpHTTPAddr))
	if err != nil {
		return err
	}
	cmd.PrintErrf("MCP server listening on http://%s\n", l.Addr())
	return server.Serve(cmd.Context(), l)
}

// loopbackAddr binds a bare ":port" to 127.0.0.1.
func loopbackAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}
