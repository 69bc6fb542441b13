package core

import "context"

// EmbeddingProvider turns text into fixed-width vectors. Failures are
// job-level failures subject to the normal retry policy.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Transcriber converts raw audio bytes into a text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
