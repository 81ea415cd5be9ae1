package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// listModels calls a list endpoint and decodes the unified Model slice.
func (c *LMStudioClient) listModels(ctx context.Context, namespace, endpoint string, loaded bool) ([]Model, error) {
	conn, err := c.getConnection(namespace)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Sending %s request to %s namespace", endpoint, namespace)
	result, err := conn.RemoteCall(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Raw %s %s response: %s", namespace, endpoint, string(result))

	var models []Model
	if err := json.Unmarshal(result, &models); err != nil {
		return nil, fmt.Errorf("failed to parse %s %s response: %w", namespace, endpoint, err)
	}
	for i := range models {
		models[i].IsLoaded = loaded
	}
	return models, nil
}

// ListDownloadedModels lists all downloaded models available in LM Studio
func (c *LMStudioClient) ListDownloadedModels(ctx context.Context) ([]Model, error) {
	return c.listModels(ctx, SystemAPINamespace, ModelListDownloadedEndpoint, false)
}

// ListLoadedLLMs lists all loaded models available in LM Studio
func (c *LMStudioClient) ListLoadedLLMs(ctx context.Context) ([]Model, error) {
	return c.listModels(ctx, LLMNamespace, ModelListLoadedEndpoint, true)
}

// ListLoadedEmbeddingModels lists all loaded embedding models available in LM Studio
func (c *LMStudioClient) ListLoadedEmbeddingModels(ctx context.Context) ([]Model, error) {
	return c.listModels(ctx, EmbeddingNamespace, ModelListLoadedEndpoint, true)
}

// ListAllLoadedModels lists all loaded models (both LLM and embedding).
// A namespace that fails to answer is logged and skipped.
func (c *LMStudioClient) ListAllLoadedModels(ctx context.Context) ([]Model, error) {
	var allModels []Model

	llmModels, err := c.ListLoadedLLMs(ctx)
	if err != nil {
		c.logger.Debug("Warning: Failed to list loaded LLM models: %v", err)
	}
	for i := range llmModels {
		if llmModels[i].Type == "" {
			llmModels[i].Type = "llm"
		}
	}
	allModels = append(allModels, llmModels...)

	embeddingModels, err := c.ListLoadedEmbeddingModels(ctx)
	if err != nil {
		c.logger.Debug("Warning: Failed to list loaded embedding models: %v", err)
	}
	for i := range embeddingModels {
		if embeddingModels[i].Type == "" {
			embeddingModels[i].Type = "embedding"
		}
	}
	allModels = append(allModels, embeddingModels...)

	return allModels, nil
}

// findDownloaded returns the downloaded model with the given key.
func (c *LMStudioClient) findDownloaded(ctx context.Context, modelKey string) (*Model, error) {
	downloaded, err := c.ListDownloadedModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check downloaded models: %w", err)
	}
	for i := range downloaded {
		if downloaded[i].Matches(modelKey) {
			return &downloaded[i], nil
		}
	}
	return nil, fmt.Errorf("model %s: %w", modelKey, ErrModelNotFound)
}

// findLoaded returns the loaded instance addressed by name, or nil.
func (c *LMStudioClient) findLoaded(ctx context.Context, name string) (*Model, error) {
	loaded, err := c.ListAllLoadedModels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		if loaded[i].Matches(name) {
			return &loaded[i], nil
		}
	}
	return nil, nil
}

// LoadModel loads a downloaded model. progressFn, if set, receives strictly
// increasing progress values ending with 1.0. A model that is already loaded
// reports 1.0 once and is not loaded again.
func (c *LMStudioClient) LoadModel(ctx context.Context, modelKey string, opts LoadOptions, progressFn LoadProgressFunc) error {
	model, err := c.findDownloaded(ctx, modelKey)
	if err != nil {
		return err
	}

	report := func(progress float64) {
		c.logger.Debug("Loading model %s: %.1f%% complete", modelKey, progress*100)
		if progressFn != nil {
			progressFn(progress, model)
		}
	}

	loaded, err := c.findLoaded(ctx, modelKey)
	if err != nil {
		c.logger.Warn("Warning: Failed to check if model is already loaded: %v", err)
	}
	if loaded != nil {
		c.logger.Debug("Model %s is already loaded", modelKey)
		report(1.0)
		return nil
	}

	namespace := LLMNamespace
	if model.Type == "embedding" {
		namespace = EmbeddingNamespace
	}
	conn, err := c.getConnection(namespace)
	if err != nil {
		return err
	}

	c.logger.Debug("Creating model loading channel for: %s", modelKey)
	if _, err := conn.loadOnChannel(ctx, model.ModelKey, opts, report); err != nil {
		return fmt.Errorf("failed to load model %s: %w", modelKey, err)
	}
	return nil
}

// UnloadModel unloads a loaded instance. Unloading a model that is not
// loaded is not an error.
func (c *LMStudioClient) UnloadModel(ctx context.Context, identifier string) error {
	namespace := LLMNamespace
	if loaded, err := c.findLoaded(ctx, identifier); err == nil && loaded != nil {
		if loaded.Identifier != "" {
			identifier = loaded.Identifier
		}
		if loaded.Type == "embedding" {
			namespace = EmbeddingNamespace
		}
	}

	conn, err := c.getConnection(namespace)
	if err != nil {
		return err
	}

	c.logger.Debug("Sending unloadModel request for model: %s", identifier)
	_, err = conn.RemoteCall(ctx, ModelUnloadEndpoint, map[string]interface{}{
		"identifier": identifier,
	})
	if err != nil {
		var rerr *RemoteError
		if errors.As(err, &rerr) && strings.Contains(strings.ToLower(rerr.Error()), "not loaded") {
			c.logger.Debug("Model %s was not loaded", identifier)
			return nil
		}
		return err
	}

	c.logger.Debug("Successfully unloaded model: %s", identifier)
	return nil
}

// UnloadAllModels unloads all currently loaded models. Failures are
// collected and returned together after every model was tried.
func (c *LMStudioClient) UnloadAllModels(ctx context.Context) error {
	loadedModels, err := c.ListAllLoadedModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list loaded models: %w", err)
	}

	if len(loadedModels) == 0 {
		c.logger.Debug("No models are currently loaded")
		return nil
	}

	c.logger.Debug("Unloading all %d loaded models", len(loadedModels))

	var errs []error
	for _, model := range loadedModels {
		identifier := model.Identifier
		if identifier == "" {
			identifier = model.ModelKey
		}
		if err := c.UnloadModel(ctx, identifier); err != nil {
			c.logger.Warn("Failed to unload model %s: %v", identifier, err)
			errs = append(errs, fmt.Errorf("unload %s: %w", identifier, err))
		}
	}
	return errors.Join(errs...)
}
