package lmstudio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type mockModel struct {
	Model
	InstanceReference string
	IsLoaded          bool
}

var mockModel1 = mockModel{
	Model: Model{
		ModelKey:         "mock-model-0.5B",
		Path:             "/mock/path/to/mock-model-0.5B",
		Type:             "llm",
		Format:           "gguf",
		Size:             512 * 1024 * 1024,
		MaxContextLength: 32768,
		DisplayName:      "Mock Model 0.5B",
		Architecture:     "qwen2",
	},
	InstanceReference: "mock-instance-0.5B",
}

var mockModel2 = mockModel{
	Model: Model{
		ModelKey:          "mock-model-7B",
		Path:              "/mock/path/to/mock-model-7B",
		Type:              "llm",
		Format:            "gguf",
		Size:              4 * 1024 * 1024 * 1024,
		MaxContextLength:  131072,
		DisplayName:       "Mock Model 7B",
		Architecture:      "llama",
		TrainedForToolUse: true,
	},
	InstanceReference: "mock-instance-7B",
	IsLoaded:          true,
}

var mockEmbeddingModel = mockModel{
	Model: Model{
		ModelKey:         "mock-embedding",
		Path:             "/mock/path/to/mock-embedding",
		Type:             "embedding",
		Format:           "gguf",
		Size:             80 * 1024 * 1024,
		MaxContextLength: 2048,
		DisplayName:      "Mock Embedding",
		Architecture:     "nomic-bert",
	},
	InstanceReference: "mock-instance-embedding",
}

var mockCatalog = []SearchResult{
	{Name: "qwen2.5-7b-instruct", Identifier: SearchResultIdentifier{Type: "catalog", Identifier: "qwen/qwen2.5-7b-instruct"}, StaffPick: true},
	{Name: "qwen2.5-coder-1.5b", Identifier: SearchResultIdentifier{Type: "hf", Identifier: "Qwen/Qwen2.5-Coder-1.5B-GGUF"}},
	{Name: "llama-3.2-1b-instruct", Identifier: SearchResultIdentifier{Type: "catalog", Identifier: "meta/llama-3.2-1b-instruct"}},
}

// mockServiceState is shared by every namespace connection of one mock
// service.
type mockServiceState struct {
	mu     sync.Mutex
	models []mockModel
	server ServerStatus
}

func (s *mockServiceState) find(name string) *mockModel {
	for i := range s.models {
		m := &s.models[i]
		if m.ModelKey == name || m.Identifier == name || m.InstanceReference == name {
			return m
		}
	}
	return nil
}

func (s *mockServiceState) downloaded() []Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	models := make([]Model, 0, len(s.models))
	for _, m := range s.models {
		models = append(models, m.Model)
	}
	return models
}

func (s *mockServiceState) loaded(modelType string) []Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	models := []Model{}
	for _, m := range s.models {
		if !m.IsLoaded || m.Type != modelType {
			continue
		}
		loaded := m.Model
		if loaded.Identifier == "" {
			loaded.Identifier = m.ModelKey
		}
		loaded.InstanceReference = m.InstanceReference
		loaded.ContextLength = 4096
		models = append(models, loaded)
	}
	return models
}

// mockConn serializes writes from the read loop and streaming goroutines.
type mockConn struct {
	conn   *websocket.Conn
	logger Logger
	mu     sync.Mutex
	// cancels holds one channel per streaming prediction, closed when the
	// client sends a cancel message.
	cancels map[int]chan struct{}
}

func (c *mockConn) write(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Warn("Mock server: write failed: %v", err)
	}
}

func (c *mockConn) result(callID interface{}, result interface{}) {
	c.write(map[string]interface{}{"type": "rpcResult", "callId": callID, "result": result})
}

func (c *mockConn) rpcError(callID interface{}, title string) {
	c.write(map[string]interface{}{
		"type":   "rpcError",
		"callId": callID,
		"error":  map[string]interface{}{"title": title},
	})
}

func (c *mockConn) channelSend(channelID int, message map[string]interface{}) {
	c.write(map[string]interface{}{"type": "channelSend", "channelId": channelID, "message": message})
}

func (c *mockConn) channelError(channelID int, title string) {
	c.write(map[string]interface{}{
		"type":      "channelError",
		"channelId": channelID,
		"error":     map[string]interface{}{"title": title},
	})
}

func (c *mockConn) channelClose(channelID int) {
	c.write(map[string]interface{}{"type": "channelClose", "channelId": channelID})
}

// NewMockLMStudioService creates a test WebSocket server for unit testing.
// It implements the system, llm, embedding and repository endpoints the
// client uses. A prediction whose last message contains "slow" streams
// tokens until cancelled; one containing "fail" ends with a channel error.
func NewMockLMStudioService(t *testing.T, logger Logger) *httptest.Server {
	t.Helper()

	state := &mockServiceState{
		models: []mockModel{mockModel1, mockModel2, mockEmbeddingModel},
		server: ServerStatus{Port: 1234},
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": state.downloaded()})
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Mock server: failed to upgrade connection: %v", err)
			return
		}
		defer ws.Close()
		conn := &mockConn{conn: ws, logger: logger, cancels: make(map[int]chan struct{})}
		namespace := strings.TrimPrefix(r.URL.Path, "/")

		// Handle authentication first
		var authMsg map[string]interface{}
		if err := ws.ReadJSON(&authMsg); err != nil {
			logger.Error("Mock server: failed to read auth message: %v", err)
			return
		}
		conn.write(map[string]interface{}{"success": true})

		// Main handler loop: process API requests
		for {
			var msg map[string]interface{}
			if err := ws.ReadJSON(&msg); err != nil {
				logger.Debug("Mock server: connection closed or error: %v", err)
				return
			}

			endpoint, _ := msg["endpoint"].(string)
			msgType, _ := msg["type"].(string)
			callID := msg["callId"]
			channelIDf, _ := msg["channelId"].(float64)
			channelID := int(channelIDf)
			params, _ := msg["parameter"].(map[string]interface{})
			creation, _ := msg["creationParameter"].(map[string]interface{})

			logger.Debug("Mock server: received %s message on %s: %v", msgType, namespace, msg)
			switch {
			case msgType == "rpcCall" && endpoint == ModelListLoadedEndpoint:
				modelType := "llm"
				if namespace == EmbeddingNamespace {
					modelType = "embedding"
				}
				conn.result(callID, state.loaded(modelType))

			case msgType == "rpcCall" && endpoint == ModelListDownloadedEndpoint:
				conn.result(callID, state.downloaded())

			case msgType == "rpcCall" && endpoint == ModelUnloadEndpoint:
				identifier, _ := params["identifier"].(string)
				state.mu.Lock()
				model := state.find(identifier)
				wasLoaded := model != nil && model.IsLoaded
				if wasLoaded {
					model.IsLoaded = false
					model.Identifier = ""
				}
				state.mu.Unlock()
				if !wasLoaded {
					conn.rpcError(callID, fmt.Sprintf("Model is not loaded: %s", identifier))
					continue
				}
				conn.result(callID, map[string]interface{}{"success": true})

			case msgType == "channelCreate" && endpoint == ModelLoadEndpoint:
				modelKey, _ := creation["modelKey"].(string)
				identifier, _ := creation["identifier"].(string)
				state.mu.Lock()
				model := state.find(modelKey)
				var info map[string]interface{}
				if model != nil {
					model.IsLoaded = true
					model.Identifier = identifier
					info = map[string]interface{}{
						"identifier":        identifier,
						"instanceReference": model.InstanceReference,
					}
				}
				state.mu.Unlock()

				if model == nil {
					conn.channelError(channelID, fmt.Sprintf("Model not found: %s", modelKey))
					continue
				}

				conn.channelSend(channelID, map[string]interface{}{"type": "resolved"})
				// Progress repeats and steps back once, as real loads sometimes do.
				for _, progress := range []float64{0.1, 0.3, 0.3, 0.2, 0.5, 0.7, 0.9, 1.0} {
					conn.channelSend(channelID, map[string]interface{}{"type": "progress", "progress": progress})
				}
				conn.channelSend(channelID, map[string]interface{}{"type": "success", "info": info})
				conn.channelClose(channelID)

			case msgType == "channelCreate" && endpoint == ModelChatEndpoint:
				spec, _ := creation["modelSpecifier"].(map[string]interface{})
				instanceReference, _ := spec["instanceReference"].(string)
				state.mu.Lock()
				model := state.find(instanceReference)
				found := model != nil && model.IsLoaded
				state.mu.Unlock()
				if !found {
					conn.channelError(channelID, fmt.Sprintf("Model instance not found: %s", instanceReference))
					continue
				}

				cancel := make(chan struct{})
				conn.mu.Lock()
				conn.cancels[channelID] = cancel
				conn.mu.Unlock()
				go conn.streamPrediction(channelID, lastMessageText(creation), cancel)

			case msgType == "channelSend":
				message, _ := msg["message"].(map[string]interface{})
				if kind, _ := message["type"].(string); kind == "cancel" {
					conn.mu.Lock()
					if cancel, ok := conn.cancels[channelID]; ok {
						close(cancel)
						delete(conn.cancels, channelID)
					}
					conn.mu.Unlock()
				}

			case msgType == "rpcCall" && endpoint == SearchModelsEndpoint:
				opts, _ := params["opts"].(map[string]interface{})
				term, _ := opts["searchTerm"].(string)
				limit, _ := opts["limit"].(float64)
				results := []SearchResult{}
				for _, r := range mockCatalog {
					if strings.Contains(strings.ToLower(r.Name), strings.ToLower(term)) {
						r.Exact = strings.EqualFold(r.Name, term)
						results = append(results, r)
					}
				}
				if limit > 0 && len(results) > int(limit) {
					results = results[:int(limit)]
				}
				conn.result(callID, map[string]interface{}{"results": results})

			case msgType == "rpcCall" && endpoint == DownloadOptionsEndpoint:
				id, _ := params["modelSearchResultIdentifier"].(map[string]interface{})
				ident, _ := id["identifier"].(string)
				conn.result(callID, map[string]interface{}{"results": mockDownloadOptions(ident)})

			case msgType == "channelCreate" && endpoint == DownloadModelEndpoint:
				downloadID, _ := creation["downloadIdentifier"].(string)
				if strings.Contains(downloadID, "missing") {
					conn.channelError(channelID, "File not found")
					continue
				}
				modelKey, _, _ := strings.Cut(downloadID, "@")
				const total = 1000
				for _, done := range []int64{0, 250, 250, 500, 750, total} {
					conn.channelSend(channelID, map[string]interface{}{
						"type": "downloadProgress",
						"update": DownloadProgress{
							DownloadedBytes:     done,
							TotalBytes:          total,
							SpeedBytesPerSecond: 500,
						},
					})
				}
				conn.channelSend(channelID, map[string]interface{}{"type": "startFinalizing"})
				state.mu.Lock()
				if state.find(modelKey) == nil {
					state.models = append(state.models, mockModel{
						Model: Model{
							ModelKey: modelKey,
							Path:     "/mock/path/to/" + modelKey,
							Type:     "llm",
							Format:   "gguf",
							Size:     total,
						},
						InstanceReference: "mock-instance-" + modelKey,
					})
				}
				state.mu.Unlock()
				conn.channelSend(channelID, map[string]interface{}{"type": "success", "defaultIdentifier": modelKey})
				conn.channelClose(channelID)

			case msgType == "rpcCall" && endpoint == ServerStartEndpoint:
				state.mu.Lock()
				state.server.Running = true
				if port, ok := params["port"].(float64); ok {
					state.server.Port = int(port)
				}
				state.server.CORS, _ = params["cors"].(bool)
				state.mu.Unlock()
				conn.result(callID, nil)

			case msgType == "rpcCall" && endpoint == ServerStopEndpoint:
				state.mu.Lock()
				wasRunning := state.server.Running
				state.server.Running = false
				state.mu.Unlock()
				if !wasRunning {
					conn.rpcError(callID, "Server is not running")
					continue
				}
				conn.result(callID, nil)

			case msgType == "rpcCall" && endpoint == ServerStatusEndpoint:
				state.mu.Lock()
				status := state.server
				state.mu.Unlock()
				conn.result(callID, status)

			case msgType == "rpcCall":
				conn.rpcError(callID, fmt.Sprintf("Unknown endpoint: %s", endpoint))

			default:
				logger.Debug("Mock server received unhandled message: %v", msg)
			}
		}
	}))

	return server
}

func mockDownloadOptions(identifier string) []DownloadOption {
	base := strings.ToLower(identifier[strings.LastIndex(identifier, "/")+1:])
	return []DownloadOption{
		{Name: base + "-Q3_K_L.gguf", Quantization: "Q3_K_L", Size: 3 << 30, DownloadIdentifier: base + "@q3_k_l"},
		{Name: base + "-Q4_K_M.gguf", Quantization: "Q4_K_M", Size: 4 << 30, Recommended: true, DownloadIdentifier: base + "@q4_k_m"},
		{Name: base + "-Q8_0.gguf", Quantization: "Q8_0", Size: 8 << 30, DownloadIdentifier: base + "@q8_0"},
	}
}

// lastMessageText returns the text of the last history message of a
// predict creation parameter.
func lastMessageText(creation map[string]interface{}) string {
	history, _ := creation["history"].(map[string]interface{})
	messages, _ := history["messages"].([]interface{})
	if len(messages) == 0 {
		return ""
	}
	last, _ := messages[len(messages)-1].(map[string]interface{})
	parts, _ := last["content"].([]interface{})
	var text strings.Builder
	for _, p := range parts {
		part, _ := p.(map[string]interface{})
		s, _ := part["text"].(string)
		text.WriteString(s)
	}
	return text.String()
}

func (c *mockConn) streamPrediction(channelID int, prompt string, cancel chan struct{}) {
	defer func() {
		c.mu.Lock()
		delete(c.cancels, channelID)
		c.mu.Unlock()
	}()

	if strings.Contains(prompt, "fail") {
		c.channelSend(channelID, map[string]interface{}{"type": "fragment", "fragment": map[string]interface{}{"content": "Partial"}})
		c.channelError(channelID, "Prediction failed")
		return
	}

	tokens := []string{"Hello", ", ", "world", "!"}
	delay := time.Duration(0)
	if strings.Contains(prompt, "slow") {
		tokens = nil
		for i := 0; i < 200; i++ {
			tokens = append(tokens, fmt.Sprintf("tok%d ", i))
		}
		delay = 20 * time.Millisecond
	}

	for i, token := range tokens {
		select {
		case <-cancel:
			c.logger.Debug("Mock server: prediction on channel %d cancelled after %d tokens", channelID, i)
			c.channelSend(channelID, map[string]interface{}{
				"type":  "success",
				"stats": PredictionStats{StopReason: "userStopped", PredictedTokensCount: i},
			})
			c.channelClose(channelID)
			return
		case <-time.After(delay):
		}
		c.logger.Debug("Mock server: Sending token '%s' to channel %d", token, channelID)
		c.channelSend(channelID, map[string]interface{}{
			"type":     "fragment",
			"fragment": map[string]interface{}{"content": token},
		})
	}

	c.channelSend(channelID, map[string]interface{}{
		"type": "success",
		"stats": PredictionStats{
			StopReason:           "eosFound",
			TokensPerSecond:      42.5,
			TimeToFirstTokenSec:  0.05,
			PromptTokensCount:    12,
			PredictedTokensCount: len(tokens),
			TotalTokensCount:     12 + len(tokens),
		},
	})
	c.channelClose(channelID)
}
