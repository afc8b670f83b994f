package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Hash is a deterministic bag-of-words embedder. It needs no model server, which makes
// it useful for local runs and tests; it has no semantic quality.
type Hash struct {
	dim int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 64
	}
	return &Hash{dim: dim}
}

func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return nil
	}
	v := make([]float32, h.dim)
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%h.dim] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for j := range v {
		v[j] *= scale
	}
	return v
}
