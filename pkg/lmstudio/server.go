package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
)

// StartServer starts LM Studio's OpenAI-compatible HTTP server. port 0
// keeps the server's configured port.
func (c *LMStudioClient) StartServer(ctx context.Context, port int, cors bool) error {
	conn, err := c.getConnection(SystemAPINamespace)
	if err != nil {
		return err
	}

	params := map[string]interface{}{"cors": cors}
	if port > 0 {
		params["port"] = port
	}
	if _, err := conn.RemoteCall(ctx, ServerStartEndpoint, params); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	c.logger.Debug("HTTP server started (port %d, cors %v)", port, cors)
	return nil
}

// StopServer stops the HTTP server.
func (c *LMStudioClient) StopServer(ctx context.Context) error {
	conn, err := c.getConnection(SystemAPINamespace)
	if err != nil {
		return err
	}
	if _, err := conn.RemoteCall(ctx, ServerStopEndpoint, nil); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}

// ServerStatus reports whether the HTTP server is running.
func (c *LMStudioClient) ServerStatus(ctx context.Context) (ServerStatus, error) {
	conn, err := c.getConnection(SystemAPINamespace)
	if err != nil {
		return ServerStatus{}, err
	}
	result, err := conn.RemoteCall(ctx, ServerStatusEndpoint, nil)
	if err != nil {
		return ServerStatus{}, fmt.Errorf("server status: %w", err)
	}

	var status ServerStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return ServerStatus{}, fmt.Errorf("failed to parse server status: %w", err)
	}
	return status, nil
}
