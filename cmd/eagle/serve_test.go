package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

func TestServePromptsWritesResultsInOrder(t *testing.T) {
	e, err := buildEngine(config.Default(), tokenizer.Default())
	require.NoError(t, err)
	defer e.Close()

	in := strings.NewReader("The capital of France is\n\n   \nThe president of the United States is\n")
	var out bytes.Buffer
	require.NoError(t, servePrompts(context.Background(), e, in, &out, engine.Params{MaxTokens: 8}))

	var got []generateResult
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r generateResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "The capital of France is", got[0].Prompt)
	assert.Equal(t, "The president of the United States is", got[1].Prompt)
	for _, r := range got {
		assert.Empty(t, r.Error)
		assert.NotEmpty(t, r.RequestID)
		assert.LessOrEqual(t, r.Tokens, 8)
	}
}

func TestServePromptsStopsOnCancelledContext(t *testing.T) {
	e, err := buildEngine(config.Default(), tokenizer.Default())
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, servePrompts(ctx, e, strings.NewReader("hello\nworld\n"), &out, engine.Params{}))
	assert.Empty(t, out.String())
}
