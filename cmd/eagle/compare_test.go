package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

func TestCompareDefaultPromptsMatch(t *testing.T) {
	for _, oneModel := range []bool{false, true} {
		cfg := config.Default()
		cfg.OneModel = oneModel

		results, err := compare(context.Background(), cfg, tokenizer.Default(), defaultComparePrompts, engine.Params{MaxTokens: 10})
		require.NoError(t, err)
		require.Len(t, results, len(defaultComparePrompts))

		var buf bytes.Buffer
		assert.Zero(t, report(&buf, results), buf.String())
		assert.Contains(t, buf.String(), "2/2 prompts identical")
		for _, r := range results {
			assert.Equal(t, r.Reference.TokenIDs, r.Spec.TokenIDs)
			assert.Zero(t, r.Reference.Drafted)
		}
	}
}

func TestReportCountsMismatches(t *testing.T) {
	results := []comparison{
		{Prompt: "a", Spec: engine.Output{Text: "x", Drafted: 4, Accepted: 2}, Reference: engine.Output{Text: "x"}},
		{Prompt: "b", Spec: engine.Output{Text: "y", Drafted: 4, Accepted: 4}, Reference: engine.Output{Text: "z"}},
	}

	var buf bytes.Buffer
	assert.Equal(t, 1, report(&buf, results))
	assert.Contains(t, buf.String(), "[MISMATCH] \"b\"")
	assert.Contains(t, buf.String(), "overall acceptance 0.750")
}
