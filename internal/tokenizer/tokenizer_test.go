package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecialIDs(t *testing.T) {
	tok := New([]string{"hello", "world"})

	assert.Equal(t, 0, tok.UnkID())
	assert.Equal(t, 1, tok.BosID())
	assert.Equal(t, 2, tok.EosID())
	assert.Equal(t, 5, tok.VocabSize())
	assert.True(t, tok.IsSpecial(2))
	assert.False(t, tok.IsSpecial(3))
}

func TestEncodeDecode(t *testing.T) {
	tok := New([]string{"hello", "world", "Hello"})

	ids := tok.Encode("Hello, world! goodbye")
	require.Equal(t, []int{tok.BosID(), 3, 4, tok.UnkID()}, ids)

	assert.Equal(t, "hello world", tok.Decode(ids))
	assert.Equal(t, "world", tok.Decode([]int{-1, 4, 99, tok.EosID()}))
}

func TestDefaultVocabCoversPrompts(t *testing.T) {
	tok := Default()

	prompts := []string{
		"The future of AI is",
		"The capital of France is",
		"The president of the United States is",
	}
	for _, p := range prompts {
		t.Run(p, func(t *testing.T) {
			for _, id := range tok.Encode(p)[1:] {
				assert.NotEqual(t, tok.UnkID(), id)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n\ngamma\n"), 0o644))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, tok.VocabSize())
	assert.Equal(t, "alpha gamma", tok.Decode([]int{3, 5}))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Load(empty)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
