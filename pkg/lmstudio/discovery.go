package lmstudio

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

func generateUrls(hosts []string, ports []int) (urls []string) {

	protocols := []string{"http", "https"}

	if len(hosts) == 0 || hosts[0] == "" {
		hosts = LMStudioAPIHosts
	}

	if len(ports) == 0 || ports[0] == 0 {
		ports = LMStudioAPIPorts
	}

	for _, proto := range protocols {
		for _, host := range hosts {
			for _, port := range ports {
				urls = append(urls, fmt.Sprintf("%s://%s:%d", proto, host, port))
			}
		}
	}
	return urls
}

// DiscoverLMStudioServer attempts to discover an LM Studio server running on the local network.
// It first checks if the server is running on localhost, and if not, it tries to find it on the local network interfaces.
// Returns the discovered URL if found, or an error if not found.
func DiscoverLMStudioServer(host string, port int, logger Logger) (discoveredUrl string, err error) {

	if logger == nil {
		logger = NewLogger(LogLevelInfo)
	}

	logger.Debug("Attempting to discover LM Studio server...")

	localhostUrls := generateUrls([]string{host}, []int{port})

	for _, url := range localhostUrls {
		logger.Debug("Checking if LM Studio server is running at %s", url)
		if isServerRunning(url, logger) {
			logger.Debug("LM Studio server found at %s", url)
			return url, nil
		}
	}

	// If not found on localhost, check all network interfaces
	netAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	ipaddrs := []string{}

	for _, netAddr := range netAddrs {
		if ipnet, ok := netAddr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			// Found a non-loopback IPv4 address
			ipaddrs = append(ipaddrs, ipnet.IP.String())
		}
	}

	networkUrls := generateUrls(ipaddrs, []int{port})

	for _, url := range networkUrls {
		logger.Debug("Checking if LM Studio server is running at %s", url)
		if isServerRunning(url, logger) {
			logger.Info("LM Studio server found at %s", url)
			return url, nil
		}
	}

	return "", fmt.Errorf("no LM Studio server found on the local network")
}

// ProbeServer checks that an LM Studio server answers at baseURL. It
// returns nil when GET baseURL/v1/models responds 200 OK.
func ProbeServer(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", baseURL, err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: unexpected status code %d", baseURL, resp.StatusCode)
	}
	return nil
}

// isServerRunning checks if an LM Studio server is running at the given address
func isServerRunning(url string, logger Logger) bool {
	if err := ProbeServer(context.Background(), url); err != nil {
		logger.Debug("Failed to connect to %s: %v", url, err)
		return false
	}
	logger.Debug("Successfully connected to LM Studio server at %s", url)
	return true
}
