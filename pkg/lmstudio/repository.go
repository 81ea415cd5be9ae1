package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchModels searches the model catalog. limit <= 0 leaves the limit to
// the server.
func (c *LMStudioClient) SearchModels(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}

	conn, err := c.getConnection(RepositoryNamespace)
	if err != nil {
		return nil, err
	}

	opts := map[string]interface{}{"searchTerm": query}
	if limit > 0 {
		opts["limit"] = limit
	}

	result, err := conn.RemoteCall(ctx, SearchModelsEndpoint, map[string]interface{}{"opts": opts})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return resp.Results, nil
}

// DownloadOptions lists the files that can be downloaded for a search
// result.
func (c *LMStudioClient) DownloadOptions(ctx context.Context, sr SearchResult) ([]DownloadOption, error) {
	conn, err := c.getConnection(RepositoryNamespace)
	if err != nil {
		return nil, err
	}

	result, err := conn.RemoteCall(ctx, DownloadOptionsEndpoint, map[string]interface{}{
		"modelSearchResultIdentifier": sr.Identifier,
	})
	if err != nil {
		return nil, fmt.Errorf("download options for %s: %w", sr.Name, err)
	}

	var resp struct {
		Results []DownloadOption `json:"results"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse download options: %w", err)
	}
	return resp.Results, nil
}

// DownloadModel downloads opt and returns the key of the new model.
// progressFn receives updates with strictly increasing byte counts.
func (c *LMStudioClient) DownloadModel(ctx context.Context, opt DownloadOption, progressFn DownloadProgressFunc) (string, error) {
	if opt.DownloadIdentifier == "" {
		return "", fmt.Errorf("download: option %q has no download identifier", opt.Name)
	}

	conn, err := c.getConnection(RepositoryNamespace)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Downloading %s (%d bytes)", opt.DownloadIdentifier, opt.Size)
	return conn.downloadOnChannel(ctx, opt, progressFn)
}

// ChooseDownloadOption picks the option whose quantization matches quant
// (case-insensitive), else the recommended one, else the first. ok is false
// when options is empty.
func ChooseDownloadOption(options []DownloadOption, quant string) (opt DownloadOption, ok bool) {
	if len(options) == 0 {
		return DownloadOption{}, false
	}
	if quant != "" {
		for _, o := range options {
			if strings.EqualFold(o.Quantization, quant) {
				return o, true
			}
		}
	}
	for _, o := range options {
		if o.Recommended {
			return o, true
		}
	}
	return options[0], true
}
