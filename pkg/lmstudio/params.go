package lmstudio

// Version is the version of the lms client library and CLI.
const Version = "0.4.0"

var (
	LMStudioAPIHosts = []string{"localhost", "127.0.0.1", "0.0.0.0"}
	LMStudioAPIPorts = []int{1234, 12345}
)

const (
	LMStudioWsAPITimeoutSec = 30
	ModelLoadTimeoutSec     = 120
	MaxConnectionRetries    = 3
	ConnectionRetryDelaySec = 2
	LMStudioAPIVersion      = 1

	SystemAPINamespace  = "system"
	LLMNamespace        = "llm"
	EmbeddingNamespace  = "embedding"
	RepositoryNamespace = "repository"

	ModelListLoadedEndpoint     = "listLoaded"
	ModelLoadEndpoint           = "loadModel"
	ModelUnloadEndpoint         = "unloadModel"
	ModelListDownloadedEndpoint = "listDownloadedModels"
	ModelChatEndpoint           = "predict"

	SearchModelsEndpoint    = "searchModels"
	DownloadOptionsEndpoint = "getModelDownloadOptions"
	DownloadModelEndpoint   = "downloadModel"

	ServerStartEndpoint  = "startHttpServer"
	ServerStopEndpoint   = "stopHttpServer"
	ServerStatusEndpoint = "getHttpServerStatus"

	// DefaultMaxTokens caps a single prediction when the caller sets no limit.
	DefaultMaxTokens = 4096
)
