package lmstudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// LMStudioClient represents a client for LM Studio service
type LMStudioClient struct {
	logger      Logger
	apiHost     string
	connections map[string]*namespaceConnection
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewLMStudioClient creates a new LM Studio client
func NewLMStudioClient(apiHost string, logger Logger) *LMStudioClient {
	if apiHost == "" {
		apiHost = fmt.Sprintf("http://%s:%d", LMStudioAPIHosts[0], LMStudioAPIPorts[0])
	}

	if logger == nil {
		logger = NewLogger(LogLevelError)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LMStudioClient{
		logger:      logger,
		apiHost:     apiHost,
		connections: make(map[string]*namespaceConnection),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// APIHost returns the address the client talks to.
func (c *LMStudioClient) APIHost() string {
	return c.apiHost
}

// getConnection gets or creates a connection to a specific namespace
func (c *LMStudioClient) getConnection(namespace string) (*namespaceConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, exists := c.connections[namespace]; exists && conn.isConnected() {
		return conn, nil
	}

	// Create a new connection if it doesn't exist or is disconnected
	conn := newNamespaceConnection(namespace, c.logger)
	if err := conn.connect(c.apiHost, c.ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s namespace: %w", namespace, err)
	}
	c.connections[namespace] = conn
	return conn, nil
}

// Close closes all namespace connections
func (c *LMStudioClient) Close() error {
	// Cancel the context to stop all message handlers
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for namespace, conn := range c.connections {
		if err := conn.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s connection: %w", namespace, err))
			c.logger.Error("Error closing %s connection: %v", namespace, err)
		}
	}
	return errors.Join(errs...)
}

// CheckStatus checks if the LM Studio service is running and accessible
func (c *LMStudioClient) CheckStatus(ctx context.Context) (bool, error) {
	// Try to connect to the system namespace as a way to check if the service is running
	conn, err := c.getConnection(SystemAPINamespace)
	if err != nil {
		c.logger.Debug("Status check could not connect: %v", err)
		return false, nil // Service is not running or not accessible
	}

	// If we can connect, check if we can make a simple API call
	if _, err := conn.RemoteCall(ctx, ModelListDownloadedEndpoint, nil); err != nil {
		return false, fmt.Errorf("service is running but API is not responding correctly: %w", err)
	}
	return true, nil
}
