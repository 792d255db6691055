package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// Hashing is a deterministic bag-of-words encoder. Each token and adjacent
// token pair is hashed with BLAKE3 into one of Dimension signed buckets and
// the result is L2-normalised. Texts sharing words land close together,
// which is enough for offline demos and tests.
type Hashing struct {
	dimension int
}

var _ Encoder = (*Hashing)(nil)

// NewHashing returns a hashing encoder producing vectors of the given size.
func NewHashing(dimension int) *Hashing {
	if dimension <= 0 {
		dimension = 256
	}
	return &Hashing{dimension: dimension}
}

// Encode never fails for a live context.
func (h *Hashing) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dimension)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (h *Hashing) add(vec []float32, feature string, weight float32) {
	sum := blake3.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dimension)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Model reports the encoder name and dimension.
func (h *Hashing) Model() string { return fmt.Sprintf("hashing-blake3-%d", h.dimension) }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
