// UPI Guardian MCP Server - exposes fraud and scam checks as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/guardian/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("GUARDIAN_API_URL", "http://localhost:8000"),
		APIKey:   os.Getenv("GUARDIAN_API_KEY"),
		EntityID: os.Getenv("GUARDIAN_ENTITY_ID"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
