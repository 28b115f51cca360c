// Package tracing wires optional Langfuse tracing into the eino callback
// chain, covering every chat-model call the pipeline makes (extraction,
// query rewriting, answer synthesis).
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup initialises the Langfuse callback handler when LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are both set. The returned flush function must run
// before process exit so buffered traces are delivered. When Langfuse is not
// configured all return values are zero and tracing is silently disabled.
func Setup() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flush, true
}
