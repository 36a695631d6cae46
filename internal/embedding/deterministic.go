package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Deterministic is a test double: an L2-normalized bag-of-words embedding
// over hashed tokens. Same text always yields the same vector, with no
// external calls, so the orchestrator and retrieval paths are testable
// without a live model.
type Deterministic struct {
	Dim int
}

func (d Deterministic) Dimensions() int {
	if d.Dim <= 0 {
		return 64
	}
	return d.Dim
}

func (d Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	dim := d.Dimensions()
	vec := make([]float32, dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (d Deterministic) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := d.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
