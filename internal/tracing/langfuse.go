// Package tracing wires Langfuse into the eino callback system so every
// answer generation is recorded as a trace with its prompt, model output and
// latency.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docqa-go/internal/version"
)

// DefaultHost is the Langfuse API used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// traceName is the Langfuse trace name for answer generation.
const traceName = "docqa"

// Setup returns a Langfuse callback handler and its flush function when both
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set; ok is false otherwise.
// flush must run before exit or buffered traces are lost.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	if host == "" {
		host = DefaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      traceName,
		Release:   version.Version,
	})

	return handler, flush, true
}
