package lmstudio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockLogger is a simple mock implementation of the Logger interface for testing.
// It records every message and prints those at or below its level.
type mockLogger struct {
	level    LogLevel
	messages []string
	mu       sync.Mutex
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		level:    LogLevelWarn,
		messages: make([]string, 0),
	}
}

func (l *mockLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *mockLogger) record(level LogLevel, prefix, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(prefix+format, v...)
	l.messages = append(l.messages, msg)
	if level <= l.level {
		fmt.Println(msg)
	}
}

func (l *mockLogger) Error(format string, v ...interface{}) {
	l.record(LogLevelError, "[ERROR] ", format, v...)
}

func (l *mockLogger) Warn(format string, v ...interface{}) {
	l.record(LogLevelWarn, "[WARN]  ", format, v...)
}

func (l *mockLogger) Info(format string, v ...interface{}) {
	l.record(LogLevelInfo, "[INFO]  ", format, v...)
}

func (l *mockLogger) Debug(format string, v ...interface{}) {
	l.record(LogLevelDebug, "[DEBUG] ", format, v...)
}

func (l *mockLogger) Trace(format string, v ...interface{}) {
	l.record(LogLevelTrace, "[TRACE] ", format, v...)
}

func (l *mockLogger) getMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Return a copy to avoid race conditions
	result := make([]string, len(l.messages))
	copy(result, l.messages)
	return result
}

// newMockClient starts a mock service and returns a client connected to it.
func newMockClient(t *testing.T) (*LMStudioClient, *mockLogger) {
	t.Helper()

	server := NewMockLMStudioService(t, newMockLogger())
	t.Cleanup(server.Close)

	serverURL, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}

	logger := newMockLogger()
	client := NewLMStudioClient(serverURL.Host, logger)
	t.Cleanup(func() { client.Close() })
	return client, logger
}

func modelKeys(models []Model) []string {
	keys := make([]string, 0, len(models))
	for _, m := range models {
		keys = append(keys, m.ModelKey)
	}
	return keys
}

// TestNewLMStudioClient tests the creation of a new LM Studio client
func TestNewLMStudioClient(t *testing.T) {
	client := NewLMStudioClient("", nil)
	if client == nil {
		t.Fatal("Expected non-nil client")
	}

	want := fmt.Sprintf("http://%s:%d", LMStudioAPIHosts[0], LMStudioAPIPorts[0])
	if client.APIHost() != want {
		t.Errorf("Expected default API host %s, got %s", want, client.APIHost())
	}
	if client.logger == nil {
		t.Error("Expected non-nil default logger")
	}
	if client.connections == nil {
		t.Error("Expected non-nil connections map")
	}
	if client.ctx == nil || client.cancel == nil {
		t.Error("Expected non-nil context and cancel function")
	}

	customHost := "localhost:5678"
	customLogger := newMockLogger()
	client = NewLMStudioClient(customHost, customLogger)

	if client.APIHost() != customHost {
		t.Errorf("Expected custom API host %s, got %s", customHost, client.APIHost())
	}
	if client.logger != customLogger {
		t.Error("Expected custom logger")
	}
}

// TestLMStudioClientClose tests the Close method of the LM Studio client
func TestLMStudioClientClose(t *testing.T) {
	client := NewLMStudioClient("localhost:1234", newMockLogger())

	// Without connections Close only cancels the context
	if err := client.Close(); err != nil {
		t.Errorf("Expected no error from Close, got %v", err)
	}

	select {
	case <-client.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Context was not canceled by Close")
	}
}

func TestCheckStatus(t *testing.T) {
	client, _ := newMockClient(t)

	ok, err := client.CheckStatus(context.Background())
	if err != nil || !ok {
		t.Fatalf("CheckStatus() = %v, %v; want true, nil", ok, err)
	}

	// Nothing listens on port 1 of the loopback interface.
	down := NewLMStudioClient("127.0.0.1:1", newMockLogger())
	defer down.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err = down.CheckStatus(ctx)
	if ok || err != nil {
		t.Errorf("CheckStatus() on closed port = %v, %v; want false, nil", ok, err)
	}
}

// TestListLoadedLLMs tests the ListLoadedLLMs method
func TestListLoadedLLMs(t *testing.T) {
	client, _ := newMockClient(t)

	models, err := client.ListLoadedLLMs(context.Background())
	if err != nil {
		t.Fatalf("ListLoadedLLMs failed: %v", err)
	}

	if len(models) != 1 {
		t.Fatalf("Expected 1 model, got %d", len(models))
	}
	if models[0].ModelKey != "mock-model-7B" {
		t.Errorf("Unexpected model key: %s", models[0].ModelKey)
	}
	if models[0].InstanceReference == "" {
		t.Errorf("Expected loaded model to carry an instance reference")
	}
	for i, model := range models {
		if !model.IsLoaded {
			t.Errorf("Expected model %d to be marked as loaded", i)
		}
	}
}

// TestListDownloadedModels tests the ListDownloadedModels method
func TestListDownloadedModels(t *testing.T) {
	client, _ := newMockClient(t)

	models, err := client.ListDownloadedModels(context.Background())
	if err != nil {
		t.Fatalf("ListDownloadedModels failed: %v", err)
	}

	got := strings.Join(modelKeys(models), ",")
	if got != "mock-model-0.5B,mock-model-7B,mock-embedding" {
		t.Errorf("Unexpected model keys: %s", got)
	}

	// Downloaded listings never mark models as loaded
	for i, model := range models {
		if model.IsLoaded {
			t.Errorf("Expected model %d to not be marked as loaded", i)
		}
	}
}

func TestListAllLoadedModels(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	if err := client.LoadModel(ctx, "mock-embedding", LoadOptions{}, nil); err != nil {
		t.Fatalf("LoadModel(mock-embedding) failed: %v", err)
	}

	embeddings, err := client.ListLoadedEmbeddingModels(ctx)
	if err != nil {
		t.Fatalf("ListLoadedEmbeddingModels failed: %v", err)
	}
	if len(embeddings) != 1 || embeddings[0].ModelKey != "mock-embedding" {
		t.Fatalf("Unexpected embedding models: %v", modelKeys(embeddings))
	}

	all, err := client.ListAllLoadedModels(ctx)
	if err != nil {
		t.Fatalf("ListAllLoadedModels failed: %v", err)
	}
	if got := strings.Join(modelKeys(all), ","); got != "mock-model-7B,mock-embedding" {
		t.Errorf("Unexpected loaded models: %s", got)
	}
	if all[1].Type != "embedding" {
		t.Errorf("Expected embedding type, got %q", all[1].Type)
	}
}

// TestUnloadModel tests the UnloadModel method
func TestUnloadModel(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	if err := client.UnloadModel(ctx, "mock-model-7B"); err != nil {
		t.Fatalf("UnloadModel failed: %v", err)
	}

	loaded, err := client.ListLoadedLLMs(ctx)
	if err != nil {
		t.Fatalf("ListLoadedLLMs failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected no loaded models after unload, got %v", modelKeys(loaded))
	}

	// Unloading a model that is not loaded is a no-op
	if err := client.UnloadModel(ctx, "mock-model-0.5B"); err != nil {
		t.Errorf("UnloadModel of a model that is not loaded returned %v", err)
	}
}

func TestUnloadAllModels(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	if err := client.LoadModel(ctx, "mock-model-0.5B", LoadOptions{}, nil); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if err := client.UnloadAllModels(ctx); err != nil {
		t.Fatalf("UnloadAllModels failed: %v", err)
	}

	all, err := client.ListAllLoadedModels(ctx)
	if err != nil {
		t.Fatalf("ListAllLoadedModels failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected nothing loaded, got %v", modelKeys(all))
	}

	// Nothing left to unload
	if err := client.UnloadAllModels(ctx); err != nil {
		t.Errorf("UnloadAllModels with nothing loaded returned %v", err)
	}
}

// TestLoadModel tests the LoadModel method
func TestLoadModel(t *testing.T) {
	t.Parallel()
	client, logger := newMockClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.LoadModel(ctx, "mock-model-0.5B", LoadOptions{}, nil); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	loaded, err := client.ListLoadedLLMs(ctx)
	if err != nil {
		t.Fatalf("ListLoadedLLMs failed: %v", err)
	}
	if got := strings.Join(modelKeys(loaded), ","); !strings.Contains(got, "mock-model-0.5B") {
		t.Errorf("Expected mock-model-0.5B to be loaded, got %s", got)
	}

	// The logger recorded progress messages
	found := false
	for _, msg := range logger.getMessages() {
		if strings.Contains(msg, "Loading model mock-model-0.5B") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected progress messages in logger, got none")
	}
}

func TestLoadModelWithIdentifier(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	err := client.LoadModel(ctx, "mock-model-0.5B", LoadOptions{Identifier: "small", ContextLength: 8192}, nil)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	loaded, err := client.ListLoadedLLMs(ctx)
	if err != nil {
		t.Fatalf("ListLoadedLLMs failed: %v", err)
	}
	var names []string
	for _, m := range loaded {
		names = append(names, m.Name())
	}
	if got := strings.Join(names, ","); !strings.Contains(got, "small") {
		t.Errorf("Expected an instance named small, got %s", got)
	}
}

// TestLoadModelWithProgress tests progress reporting of LoadModel
func TestLoadModelWithProgress(t *testing.T) {
	t.Parallel()
	client, _ := newMockClient(t)

	var progressCallbacks []float64
	var modelInfoCallbacks []*Model
	var callbackMutex sync.Mutex

	progressCallback := func(progress float64, modelInfo *Model) {
		callbackMutex.Lock()
		defer callbackMutex.Unlock()
		progressCallbacks = append(progressCallbacks, progress)
		modelInfoCallbacks = append(modelInfoCallbacks, modelInfo)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.LoadModel(ctx, "mock-model-0.5B", LoadOptions{}, progressCallback); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	callbackMutex.Lock()
	defer callbackMutex.Unlock()

	// The mock repeats and rewinds progress; callers only see increases
	want := []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0}
	if len(progressCallbacks) != len(want) {
		t.Fatalf("Expected progress %v, got %v", want, progressCallbacks)
	}
	for i := range want {
		if progressCallbacks[i] != want[i] {
			t.Errorf("Progress callback %d = %f, want %f", i, progressCallbacks[i], want[i])
		}
	}

	for _, modelInfo := range modelInfoCallbacks {
		if modelInfo == nil || modelInfo.ModelKey != "mock-model-0.5B" {
			t.Errorf("Expected model info for mock-model-0.5B, got %+v", modelInfo)
			break
		}
	}
}

// TestLoadModelAlreadyLoaded tests LoadModel when the model is already loaded
func TestLoadModelAlreadyLoaded(t *testing.T) {
	client, _ := newMockClient(t)

	var progressCallbacks []float64
	progressCallback := func(progress float64, modelInfo *Model) {
		progressCallbacks = append(progressCallbacks, progress)
	}

	// mock-model-7B appears in the loaded models list
	if err := client.LoadModel(context.Background(), "mock-model-7B", LoadOptions{}, progressCallback); err != nil {
		t.Fatalf("LoadModel failed for already loaded model: %v", err)
	}

	if len(progressCallbacks) != 1 {
		t.Fatalf("Expected exactly 1 progress callback for already loaded model, got %d", len(progressCallbacks))
	}
	if progressCallbacks[0] != 1.0 {
		t.Errorf("Expected progress to be 1.0 for already loaded model, got %f", progressCallbacks[0])
	}
}

// TestLoadModelNilCallback tests LoadModel with nil callback
func TestLoadModelNilCallback(t *testing.T) {
	client, _ := newMockClient(t)

	if err := client.LoadModel(context.Background(), "mock-model-0.5B", LoadOptions{}, nil); err != nil {
		t.Fatalf("LoadModel with nil callback failed: %v", err)
	}
}

func TestLoadModelNotFound(t *testing.T) {
	client, _ := newMockClient(t)

	err := client.LoadModel(context.Background(), "no-such-model", LoadOptions{}, nil)
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Expected ErrModelNotFound, got %v", err)
	}
}

func TestSearchAndDownload(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	results, err := client.SearchModels(ctx, "qwen", 0)
	if err != nil {
		t.Fatalf("SearchModels failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	limited, err := client.SearchModels(ctx, "qwen", 1)
	if err != nil {
		t.Fatalf("SearchModels failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected the limit to apply, got %d results", len(limited))
	}

	if _, err := client.SearchModels(ctx, "  ", 0); err == nil {
		t.Errorf("Expected an error for an empty query")
	}

	options, err := client.DownloadOptions(ctx, results[0])
	if err != nil {
		t.Fatalf("DownloadOptions failed: %v", err)
	}
	opt, ok := ChooseDownloadOption(options, "")
	if !ok || !opt.Recommended {
		t.Fatalf("Expected the recommended option, got %+v", opt)
	}

	var updates []DownloadProgress
	key, err := client.DownloadModel(ctx, opt, func(p DownloadProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("DownloadModel failed: %v", err)
	}
	if key != "qwen2.5-7b-instruct" {
		t.Errorf("Unexpected model key %q", key)
	}
	if len(updates) != 5 || updates[len(updates)-1].Fraction() != 1 {
		t.Errorf("Unexpected progress updates: %+v", updates)
	}

	downloaded, err := client.ListDownloadedModels(ctx)
	if err != nil {
		t.Fatalf("ListDownloadedModels failed: %v", err)
	}
	if !strings.Contains(strings.Join(modelKeys(downloaded), ","), key) {
		t.Errorf("Downloaded model %s not listed", key)
	}
}

func TestDownloadModelError(t *testing.T) {
	client, _ := newMockClient(t)

	_, err := client.DownloadModel(context.Background(), DownloadOption{Name: "x", DownloadIdentifier: "missing@q4"}, nil)
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}

	if _, err := client.DownloadModel(context.Background(), DownloadOption{Name: "x"}, nil); err == nil {
		t.Errorf("Expected an error for an option without download identifier")
	}
}

func TestChooseDownloadOption(t *testing.T) {
	options := mockDownloadOptions("org/model")

	tests := []struct {
		quant string
		want  string
	}{
		{"q8_0", "Q8_0"},
		{"Q3_K_L", "Q3_K_L"},
		{"", "Q4_K_M"},
		{"F16", "Q4_K_M"},
	}
	for _, tt := range tests {
		opt, ok := ChooseDownloadOption(options, tt.quant)
		if !ok || opt.Quantization != tt.want {
			t.Errorf("ChooseDownloadOption(%q) = %q, want %q", tt.quant, opt.Quantization, tt.want)
		}
	}

	noRecommended := []DownloadOption{{Quantization: "A"}, {Quantization: "B"}}
	if opt, _ := ChooseDownloadOption(noRecommended, ""); opt.Quantization != "A" {
		t.Errorf("Expected the first option, got %q", opt.Quantization)
	}
	if _, ok := ChooseDownloadOption(nil, ""); ok {
		t.Errorf("Expected ok=false for no options")
	}
}

func TestServerControl(t *testing.T) {
	client, _ := newMockClient(t)
	ctx := context.Background()

	status, err := client.ServerStatus(ctx)
	if err != nil {
		t.Fatalf("ServerStatus failed: %v", err)
	}
	if status.Running {
		t.Errorf("Expected server to be stopped initially")
	}

	if err := client.StartServer(ctx, 4321, true); err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	status, err = client.ServerStatus(ctx)
	if err != nil {
		t.Fatalf("ServerStatus failed: %v", err)
	}
	if !status.Running || status.Port != 4321 || !status.CORS {
		t.Errorf("Unexpected status after start: %+v", status)
	}

	if err := client.StopServer(ctx); err != nil {
		t.Fatalf("StopServer failed: %v", err)
	}
	if err := client.StopServer(ctx); err == nil {
		t.Errorf("Expected an error stopping a stopped server")
	}
}
