package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

// testEnv is one mock LM Studio service shared by several CLI runs.
type testEnv struct {
	t          *testing.T
	host, port string
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, k := range []string{"LMS_HOST", "LMS_PORT", "LMS_LOG_LEVEL", "LMS_MODEL", "LMS_LARGE_PASTE_THRESHOLD"} {
		t.Setenv(k, "")
	}

	server := lmstudio.NewMockLMStudioService(t, lmstudio.NewLoggerTo(io.Discard, lmstudio.LogLevelError))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return &testEnv{
		t:          t,
		host:       u.Hostname(),
		port:       u.Port(),
		configPath: filepath.Join(t.TempDir(), "lms.toml"),
	}
}

// run executes lms with args against the mock service.
func (e *testEnv) run(args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	full := append([]string{"--host", e.host, "--port", e.port, "--config", e.configPath}, args...)
	a := newApp(&out, &errOut)
	a.isTerminal = func() bool { return false }
	err = execute(context.Background(), a, full)
	return out.String(), errOut.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, stderr, err := e.run(args...)
	require.NoError(e.t, err, "lms %s\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), out, stderr)
	return out
}

func TestVersion(t *testing.T) {
	out := newTestEnv(t).mustRun("version")
	assert.Equal(t, "lms version: "+lmstudio.Version+"\n", out)
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun("status")
	assert.Contains(t, out, "RUNNING @ "+e.host+":"+e.port)
}

func TestStatusNotRunning(t *testing.T) {
	e := newTestEnv(t)
	e.port = "1"
	out, _, err := e.run("status")
	require.Error(t, err)
	assert.Contains(t, out, "NOT RUNNING")
}

func TestListDownloaded(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("ls")
	assert.Contains(t, out, "Downloaded Models:")
	assert.Contains(t, out, "mock-model-0.5B")
	assert.Contains(t, out, "mock-embedding")
	assert.Contains(t, out, "512.0 MB")
	assert.Contains(t, out, "131k")

	out = e.mustRun("ls", "--llm")
	assert.Contains(t, out, "mock-model-7B")
	assert.NotContains(t, out, "mock-embedding")

	out = e.mustRun("ls", "--embedding", "--json")
	var models []lmstudio.Model
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.Len(t, models, 1)
	assert.Equal(t, "mock-embedding", models[0].ModelKey)

	_, _, err := e.run("ls", "--llm", "--embedding")
	assert.Error(t, err)
}

func TestLoadPsUnload(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("ps")
	assert.Contains(t, out, "mock-model-7B")
	assert.NotContains(t, out, "mock-model-0.5B")

	out = e.mustRun("load", "mock-model-0.5B")
	assert.Contains(t, out, `Loading model "mock-model-0.5B" (size: 512.0 MB, format: gguf)`)
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "Model loaded successfully")

	out = e.mustRun("ps", "--json")
	var loaded []lmstudio.Model
	require.NoError(t, json.Unmarshal([]byte(out), &loaded))
	assert.Len(t, loaded, 2)

	e.mustRun("unload", "mock-model-0.5B")
	out = e.mustRun("unload", "--all")
	assert.Contains(t, out, "Unloaded all models successfully")

	out = e.mustRun("ps")
	assert.Contains(t, out, "No loaded models found")
}

func TestLoadUnknownModel(t *testing.T) {
	_, _, err := newTestEnv(t).run("load", "no-such-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, lmstudio.ErrModelNotFound)
	assert.Contains(t, err.Error(), "lms ls")
}

func TestUnloadNeedsTarget(t *testing.T) {
	e := newTestEnv(t)
	_, _, err := e.run("unload")
	assert.Error(t, err)
	_, _, err = e.run("unload", "mock-model-7B", "--all")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("get", "qwen", "--quant", "q8_0")
	assert.Contains(t, out, "qwen2.5-coder-1.5b")
	assert.Contains(t, out, "Downloading qwen2.5-7b-instruct (Q8_0, 8.0 GB)")
	assert.Contains(t, out, "Downloaded qwen2.5-7b-instruct")

	out = e.mustRun("ls")
	assert.Contains(t, out, "qwen2.5-7b-instruct")

	out = e.mustRun("get", "qwen", "--pick", "2", "--quant", "IQ1_S")
	assert.Contains(t, out, "Quantization IQ1_S not available, using Q4_K_M")
	assert.Contains(t, out, "Downloaded qwen2.5-coder-1.5b")
}

func TestGetErrors(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.run("get", "qwen", "--pick", "5")
	assert.ErrorContains(t, err, "--pick must be between 1 and 2")

	_, _, err = e.run("get", "nothing-matches-this")
	assert.ErrorContains(t, err, "no models found")
}

func TestServerCommands(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("server", "status")
	assert.Contains(t, out, "NOT RUNNING")

	out = e.mustRun("server", "start", "--server-port", "4321", "--cors")
	assert.Contains(t, out, "Server started on port 4321")

	out = e.mustRun("server", "status")
	assert.Contains(t, out, "RUNNING on port 4321 (CORS on)")

	e.mustRun("server", "stop")
	_, _, err := e.run("server", "stop")
	assert.ErrorContains(t, err, "Server is not running")
}

func TestServerStartUsesConfigDefaults(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(e.configPath, []byte("[server]\nport = 5555\ncors = true\n"), 0o600))

	e.mustRun("server", "start")
	out := e.mustRun("server", "status")
	assert.Contains(t, out, "RUNNING on port 5555 (CORS on)")
}

func TestChatOneShot(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("chat", "mock-model-7B", "-p", "Say hello")
	assert.Equal(t, "Hello, world!\n", out)

	out, stderr, err := e.run("chat", "-p", "Say hello", "-s", "Be brief.")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!\n", out)
	assert.Contains(t, stderr, "using first loaded model: mock-model-7B")
}

func TestChatOneShotError(t *testing.T) {
	_, _, err := newTestEnv(t).run("chat", "mock-model-7B", "-p", "please fail")
	assert.ErrorContains(t, err, "Prediction failed")
}

func TestChatInteractiveNeedsTerminal(t *testing.T) {
	_, _, err := newTestEnv(t).run("chat", "mock-model-7B")
	assert.ErrorContains(t, err, "needs a terminal")
}

func TestInvalidConfig(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(e.configPath, []byte("log_level = \"loud\"\n"), 0o600))

	_, _, err := e.run("version")
	assert.ErrorContains(t, err, "invalid configuration")
	assert.ErrorContains(t, err, "log_level")
}
