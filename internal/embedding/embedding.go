// Package embedding maps text to fixed-dimension vectors through an external
// model, treated as a black box behind the Embedder capability interface.
package embedding

import "context"

// Embedder maps a text (or query string) to a fixed-dimension vector.
// Implementations may be slow and may fail; callers apply timeouts via ctx.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
