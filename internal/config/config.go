package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by VOKU_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("VOKU_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// LedgerDriver returns the storage backend: postgres or sqlite.
// Defaults to "sqlite" when DATABASE_URL is unset, "postgres" otherwise.
func LedgerDriver() string {
	d := os.Getenv("LEDGER_DRIVER")
	if d != "" {
		return d
	}
	if DatabaseURL() != "" {
		return "postgres"
	}
	return "sqlite"
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func SQLitePath() string {
	p := os.Getenv("SQLITE_PATH")
	if p == "" {
		return "voku.db"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

func GroqAPIKey() string {
	return os.Getenv("GROQ_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, gemini, cerebras, groq, ollama, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMModel only applies to the ollama provider.
func LLMModel() string {
	return os.Getenv("LLM_MODEL")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "groq":
		return GroqAPIKey()
	case "mock", "ollama":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

func OllamaURL() string {
	u := os.Getenv("OLLAMA_URL")
	if u == "" {
		return "http://localhost:11434"
	}
	return u
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, ollama, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock", "ollama":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingModel is empty when the provider default should be used.
func EmbeddingModel() string {
	return os.Getenv("EMBEDDING_MODEL")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// APIKey is the static bearer token for the HTTP surface. Empty disables auth.
func APIKey() string {
	return os.Getenv("API_KEY")
}

// ProcessInterval is how often the server runs the process engine.
// Defaults to 10 minutes; zero or negative disables the worker.
func ProcessInterval() time.Duration {
	v := os.Getenv("PROCESS_INTERVAL")
	if v == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ThreadRebuildCron schedules the full thread surface rebuild.
// Defaults to 03:30 UTC daily. "off" disables it.
func ThreadRebuildCron() string {
	c := os.Getenv("THREAD_REBUILD_CRON")
	if c == "" {
		return "30 3 * * *"
	}
	return c
}

// DropDir is watched for extraction batch files. Empty disables the watcher.
func DropDir() string {
	return os.Getenv("DROP_DIR")
}

func TuningFile() string {
	return os.Getenv("TUNING_FILE")
}
