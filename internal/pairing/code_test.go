package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator_Defaults(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 200 {
		code, err := CodeGenerator{}.Generate()
		require.NoError(t, err)
		assert.Len(t, code, DefaultCodeLength)
		assert.True(t, ValidCodeFormat(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190, "codes should rarely repeat")
}

func TestCodeGenerator_CustomAlphabet(t *testing.T) {
	t.Parallel()

	g := CodeGenerator{Length: 6, Alphabet: "AB"}
	counts := map[rune]int{}
	for range 500 {
		code, err := g.Generate()
		require.NoError(t, err)
		require.True(t, g.Valid(code))
		for _, r := range code {
			counts[r]++
		}
	}
	assert.Len(t, counts, 2)
	// 3000 fair coin flips: both symbols land well inside [1300, 1700].
	assert.InDelta(t, 1500, counts['A'], 200)
}

func TestCodeGenerator_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidCodeFormat("AB12CD34"))
	assert.False(t, ValidCodeFormat("ab12cd34"), "lower case is outside the alphabet")
	assert.False(t, ValidCodeFormat("AB12CD3"))
	assert.False(t, ValidCodeFormat("AB12CD34X"))
	assert.False(t, ValidCodeFormat("AB12-D34"))
	assert.False(t, ValidCodeFormat(""))
}
