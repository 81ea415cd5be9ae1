package lmstudio

import (
	"context"
	"fmt"
)

// Chat sends a conversation to a model and streams back the reply. The
// model is loaded first if it is downloaded but not loaded. onFragment
// receives each fragment as it arrives; the complete reply and the
// prediction statistics are returned when the prediction ends.
func (c *LMStudioClient) Chat(ctx context.Context, req ChatRequest, onFragment func(string)) (*ChatResult, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("chat: no model given")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat: no messages")
	}

	instance, err := c.resolveInstance(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	conn, err := c.getConnection(LLMNamespace)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Sending %d messages to model %s using predict endpoint (instance: %s, temp: %.2f)",
		len(req.Messages), req.Model, instance, req.Temperature)
	return conn.predictOnChannel(ctx, instance, req, onFragment)
}

// SendPrompt sends a single user prompt and streams back the response.
func (c *LMStudioClient) SendPrompt(ctx context.Context, model, prompt string, temperature float64, callback func(token string)) error {
	_, err := c.Chat(ctx, ChatRequest{
		Model:       model,
		Messages:    []ChatMessage{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	}, callback)
	return err
}

// resolveInstance returns the instance reference of a loaded LLM, loading
// the model first when needed.
func (c *LMStudioClient) resolveInstance(ctx context.Context, model string) (string, error) {
	find := func() (string, error) {
		loaded, err := c.ListLoadedLLMs(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to check if model is loaded: %w", err)
		}
		for _, m := range loaded {
			if m.Matches(model) {
				return m.InstanceReference, nil
			}
		}
		return "", nil
	}

	instance, err := find()
	if err != nil {
		return "", err
	}
	if instance != "" {
		return instance, nil
	}

	c.logger.Debug("Model %s is not loaded. Attempting to load it now...", model)
	if err := c.LoadModel(ctx, model, LoadOptions{}, nil); err != nil {
		return "", err
	}

	instance, err = find()
	if err != nil {
		return "", fmt.Errorf("failed to get loaded model details: %w", err)
	}
	if instance == "" {
		return "", fmt.Errorf("could not find instance reference for model %s", model)
	}
	return instance, nil
}
