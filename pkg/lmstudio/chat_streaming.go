package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// historyMessage is a chat turn in the shape the predict endpoint expects:
// content is an array of typed parts.
type historyMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func toHistory(messages []ChatMessage) []historyMessage {
	history := make([]historyMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, historyMessage{
			Role:    m.Role,
			Content: []contentPart{{Type: "text", Text: m.Content}},
		})
	}
	return history
}

func predictionConfig(req ChatRequest) map[string]interface{} {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return map[string]interface{}{
		"layers": []interface{}{
			map[string]interface{}{
				"layerName": "instance",
				"config": map[string]interface{}{
					"temperature": req.Temperature,
					"maxTokens":   maxTokens,
					"stream":      true,
					"fields":      []interface{}{},
				},
			},
		},
	}
}

// predictOnChannel streams one prediction from a loaded instance. Each
// fragment is passed to onFragment as it arrives. Cancelling ctx asks the
// server to stop generating and returns ctx.Err().
func (nc *namespaceConnection) predictOnChannel(ctx context.Context, instanceReference string, req ChatRequest, onFragment func(string)) (*ChatResult, error) {
	ch, err := nc.openChannel(ModelChatEndpoint, map[string]interface{}{
		"modelSpecifier": map[string]interface{}{
			"type":              "instanceReference",
			"instanceReference": instanceReference,
		},
		"history": map[string]interface{}{
			"messages": toHistory(req.Messages),
		},
		"predictionConfigStack": predictionConfig(req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send chat message: %w", err)
	}

	var content strings.Builder
	result := &ChatResult{}
	tokenCount := 0

	emit := func(token string) {
		if token == "" {
			return
		}
		tokenCount++
		nc.logger.Trace("Received token #%d from stream: %s", tokenCount, token)
		content.WriteString(token)
		if onFragment != nil {
			onFragment(token)
		}
	}

	err = ch.consume(ctx, func(ev channelEvent) (bool, error) {
		switch ev.Type {
		case "fragment":
			var f struct {
				Fragment struct {
					Content string `json:"content"`
				} `json:"fragment"`
			}
			if err := json.Unmarshal(ev.raw, &f); err != nil {
				nc.logger.Error("Fragment message has no fragment object")
				return false, nil
			}
			emit(f.Fragment.Content)
		case "chatToken":
			var t struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(ev.raw, &t); err != nil {
				nc.logger.Error("Failed to extract token from chatToken message")
				return false, nil
			}
			emit(t.Token)
		case "promptProcessingProgress":
			nc.logger.Trace("Channel %d: prompt processing", ch.id)
		case "success":
			var s struct {
				Stats PredictionStats `json:"stats"`
			}
			if err := json.Unmarshal(ev.raw, &s); err == nil {
				result.Stats = s.Stats
			}
			return true, nil
		case "chatEnd", "completed":
			return true, nil
		default:
			nc.logger.Debug("Channel %d: unhandled message type: %s", ch.id, ev.Type)
		}
		return false, nil
	})

	result.Content = content.String()

	switch {
	case err == nil, errors.Is(err, errChannelClosed):
		nc.logger.Debug("Chat completed, processed %d tokens", tokenCount)
		return result, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		nc.logger.Debug("Cancelling prediction on channel %d after %d tokens", ch.id, tokenCount)
		// The connection may already be gone.
		_ = ch.send(map[string]interface{}{"type": "cancel"})
		return result, err
	default:
		return result, fmt.Errorf("chat error: %w", err)
	}
}
