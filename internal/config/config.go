// Package config provides YAML-based configuration for maildesk.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. MAILDESK_CONFIG environment variable
//  3. ~/.maildesk/config.yaml
//  4. ./maildesk.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for the similarity indexes.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Mail configures the IMAP fetcher and SMTP sender.
	Mail MailConfig `yaml:"mail"`

	// Pipeline configures the message-to-ticket processing loop.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Server configures the ticket HTTP API server.
	Server ServerConfig `yaml:"server"`

	// Store configures ticket persistence.
	Store StoreConfig `yaml:"store"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Bedrock holds AWS Bedrock-specific settings.
	Bedrock BedrockConfig `yaml:"bedrock"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI-compatible provider settings. BaseURL may point
// at any OpenAI-compatible endpoint (e.g. a local LM Studio instance).
type OpenAIConfig struct {
	// APIKey is the API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`
	// Model is the model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	// Region is the AWS region for Bedrock.
	Region string `yaml:"region"`
	// ModelID is the Bedrock model identifier.
	ModelID string `yaml:"model_id"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings for the similarity indexes.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings. Two collections live on the
// same instance: one for manual chunks, one for answered-question history.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// DocsCollection is the collection holding technical-manual chunks.
	DocsCollection string `yaml:"docs_collection"`
	// HistoryCollection is the collection holding answered questions.
	HistoryCollection string `yaml:"history_collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// MailConfig holds IMAP and SMTP settings.
type MailConfig struct {
	// IMAPHost is the IMAP server address (host:port, implicit TLS).
	IMAPHost string `yaml:"imap_host"`
	// IMAPEmail is the mailbox login.
	IMAPEmail string `yaml:"imap_email"`
	// IMAPPassword is the mailbox password. Prefer env var IMAP_PASSWORD.
	IMAPPassword string `yaml:"imap_password"`
	// SMTPHost is the SMTP submission server hostname.
	SMTPHost string `yaml:"smtp_host"`
	// SMTPPort is the SMTP submission port.
	SMTPPort int `yaml:"smtp_port"`
	// SMTPUser is the SMTP login.
	SMTPUser string `yaml:"smtp_user"`
	// SMTPPassword is the SMTP password. Prefer env var SMTP_PASSWORD.
	SMTPPassword string `yaml:"smtp_password"`
	// AttachmentsDir is where fetched attachments are saved.
	AttachmentsDir string `yaml:"attachments_dir"`
}

// PipelineConfig holds the processing loop settings.
type PipelineConfig struct {
	// PollIntervalMinutes is the mailbox poll interval.
	PollIntervalMinutes int `yaml:"poll_interval_minutes"`
	// MisfireGraceSeconds bounds how late a delayed trigger may still fire.
	MisfireGraceSeconds int `yaml:"misfire_grace_seconds"`
	// BatchLimit is the maximum number of messages fetched per poll.
	BatchLimit int `yaml:"batch_limit"`
	// SimilarityThreshold is the answer-cache hit threshold (0–1).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// TopK is the number of manual chunks retrieved per question.
	TopK int `yaml:"top_k"`
	// ExtractTimeoutSeconds bounds each extraction/generation call.
	ExtractTimeoutSeconds int `yaml:"extract_timeout_seconds"`
	// RewriteTimeoutSeconds bounds each query-rewrite call.
	RewriteTimeoutSeconds int `yaml:"rewrite_timeout_seconds"`
	// ExamplesPath is the few-shot examples JSON file for extraction.
	ExamplesPath string `yaml:"examples_path"`
}

// ServerConfig holds ticket API server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var MAILDESK_API_KEY.
	APIKey string `yaml:"api_key"`
}

// StoreConfig holds ticket persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_DOCS_COLLECTION", func(c *Config) string { return c.Qdrant.DocsCollection }},
	{"QDRANT_HISTORY_COLLECTION", func(c *Config) string { return c.Qdrant.HistoryCollection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"IMAP_HOST", func(c *Config) string { return c.Mail.IMAPHost }},
	{"IMAP_EMAIL", func(c *Config) string { return c.Mail.IMAPEmail }},
	{"IMAP_PASSWORD", func(c *Config) string { return c.Mail.IMAPPassword }},
	{"SMTP_HOST", func(c *Config) string { return c.Mail.SMTPHost }},
	{"SMTP_PORT", func(c *Config) string { return intStr(c.Mail.SMTPPort) }},
	{"SMTP_USER", func(c *Config) string { return c.Mail.SMTPUser }},
	{"SMTP_PASSWORD", func(c *Config) string { return c.Mail.SMTPPassword }},
	{"ATTACHMENTS_DIR", func(c *Config) string { return c.Mail.AttachmentsDir }},
	{"POLL_INTERVAL_MINUTES", func(c *Config) string { return intStr(c.Pipeline.PollIntervalMinutes) }},
	{"MISFIRE_GRACE_SECONDS", func(c *Config) string { return intStr(c.Pipeline.MisfireGraceSeconds) }},
	{"BATCH_LIMIT", func(c *Config) string { return intStr(c.Pipeline.BatchLimit) }},
	{"SIMILARITY_THRESHOLD", func(c *Config) string { return float64Str(c.Pipeline.SimilarityThreshold) }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.Pipeline.TopK) }},
	{"EXTRACT_TIMEOUT_SECONDS", func(c *Config) string { return intStr(c.Pipeline.ExtractTimeoutSeconds) }},
	{"REWRITE_TIMEOUT_SECONDS", func(c *Config) string { return intStr(c.Pipeline.RewriteTimeoutSeconds) }},
	{"EXAMPLES_PATH", func(c *Config) string { return c.Pipeline.ExamplesPath }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"MAILDESK_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"MAILDESK_DB", func(c *Config) string { return c.Store.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("MAILDESK_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".maildesk", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("maildesk.yaml"); err == nil {
		return "maildesk.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
