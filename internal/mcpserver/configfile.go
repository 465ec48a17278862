package mcpserver

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteAgentCLIConfig writes the Agent CLI's --mcp-config file pointing at
// this server's streamable HTTP endpoint, in the "mcpServers" wrapper the
// CLI expects. It returns the path the caller should pass to argv.Build.
func (s *Server) WriteAgentCLIConfig(dir string) (string, error) {
	config := map[string]any{
		"mcpServers": map[string]any{
			"agentgate": map[string]any{
				"url":  s.StreamableHTTPEndpoint(),
				"type": "http",
			},
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "agentgate-mcp.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
