package pairing

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/tphakala/pairwatch/internal/errors"
)

const (
	DefaultCodeLength   = 8
	DefaultCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator produces pairing codes of Length symbols drawn uniformly
// from Alphabet. Zero values select the defaults.
type CodeGenerator struct {
	Length   int
	Alphabet string
}

func (g CodeGenerator) params() (int, string) {
	length, alphabet := g.Length, g.Alphabet
	if length <= 0 {
		length = DefaultCodeLength
	}
	if alphabet == "" {
		alphabet = DefaultCodeAlphabet
	}
	return length, alphabet
}

// Generate returns a new random code.
func (g CodeGenerator) Generate() (string, error) {
	length, alphabet := g.params()
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.New(err).
				Component("pairing").
				Category(errors.CategoryPairing).
				Context("operation", "generate_code").
				Build()
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Valid reports whether code could have been produced by g.
func (g CodeGenerator) Valid(code string) bool {
	length, alphabet := g.params()
	if len(code) != length {
		return false
	}
	for i := range len(code) {
		if strings.IndexByte(alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// ValidCodeFormat checks code against the default generator.
func ValidCodeFormat(code string) bool {
	return CodeGenerator{}.Valid(code)
}
