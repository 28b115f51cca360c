// Package provider defines the chat-model configuration and factory for
// selecting and constructing LLM backend implementations at runtime.
// Supported backends: Ollama, OpenAI (and OpenAI-compatible endpoints such as
// LM Studio), Azure OpenAI, AWS Bedrock, Google Gemini.
//
// Every pipeline component that needs text generation (field extraction,
// query rewriting, answer synthesis) receives a model.ToolCallingChatModel
// built by this package and calls Generate with a schema.Message slice.
package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is the full eino chat-model interface returned by the factory.
type ChatModel = model.ToolCallingChatModel

// Generator is the narrow slice of a chat model the pipeline components
// depend on. Production code passes the factory-built ChatModel; tests
// inject a fake.
type Generator interface {
	// Generate performs a single blocking chat completion.
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or any OpenAI-compatible endpoint.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID to use (e.g. "gpt-4o", "qwen").
	Model string

	// BaseURL overrides the default API endpoint (required for Ollama;
	// useful for OpenAI-compatible local servers).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// For Bedrock this field is unused; AWS credentials are resolved via the SDK chain.
	APIKey string

	// AzureEndpoint is the Azure OpenAI resource endpoint (Azure only).
	AzureEndpoint string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// AWSRegion is the AWS region for Bedrock (Bedrock only).
	AWSRegion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}
