package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

func TestSyntheticDeterministic(t *testing.T) {
	a := NewSynthetic(64, WithSeed(7))
	b := NewSynthetic(64, WithSeed(7))

	in := []Input{{SeqID: "s", Tokens: []int{1, 5, 9, 12}, From: 1}}
	outA, err := a.Forward(context.Background(), in)
	require.NoError(t, err)
	outB, err := b.Forward(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, outA, 1)
	require.Len(t, outA[0].Logits, 3)
	assert.Equal(t, outA, outB)
	assert.Equal(t, int64(1), a.Calls())
}

func TestSyntheticRowsMatchPrefixes(t *testing.T) {
	m := NewSynthetic(32, WithSeed(3), WithWindow(3))
	tokens := []int{4, 8, 15, 16, 23}

	batched, err := m.Forward(context.Background(), []Input{{Tokens: tokens, From: 2}})
	require.NoError(t, err)

	for j, row := range batched[0].Logits {
		single, err := m.Forward(context.Background(), []Input{{Tokens: tokens[:3+j], From: 2 + j}})
		require.NoError(t, err)
		assert.Equal(t, single[0].Logits[0], row, "row %d", j)
	}
}

func TestSyntheticNoiseControlsAgreement(t *testing.T) {
	target := NewSynthetic(128, WithSeed(11))
	draft := NewSynthetic(128, WithSeed(11), WithNoise(0.3, 99))

	agree := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		in := []Input{{Tokens: []int{i % 128, (i / 128) % 128, (i * 13) % 128}, From: 2}}
		to, err := target.Forward(context.Background(), in)
		require.NoError(t, err)
		do, err := draft.Forward(context.Background(), in)
		require.NoError(t, err)
		if argmax(to[0].Logits[0]) == argmax(do[0].Logits[0]) {
			agree++
		}
	}

	rate := float64(agree) / trials
	assert.InDelta(t, 0.7, rate, 0.06)
}

func TestSyntheticSuppressed(t *testing.T) {
	m := NewSynthetic(16, WithSuppressed(0, 1, 99))
	out, err := m.Forward(context.Background(), []Input{{Tokens: []int{3}, From: 0}})
	require.NoError(t, err)

	row := out[0].Logits[0]
	assert.Equal(t, float32(suppressedLogit), row[0])
	assert.Equal(t, float32(suppressedLogit), row[1])
	assert.NotEqual(t, 0, argmax(row))
}

func TestSyntheticDraftHead(t *testing.T) {
	plain := NewSynthetic(16)
	_, err := plain.DraftForward(context.Background(), []Input{{Tokens: []int{1}}})
	assert.ErrorIs(t, err, ErrBadInput)

	fused := NewSynthetic(16, WithDraftHead(0, 1))
	require.True(t, fused.HasDraftHead())

	in := []Input{{Tokens: []int{1, 2}, From: 0}}
	head, err := fused.DraftForward(context.Background(), in)
	require.NoError(t, err)
	full, err := fused.Forward(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, full, head, "a noiseless head matches the target")
	assert.Equal(t, int64(1), fused.DraftCalls())
}

func TestSyntheticInputValidation(t *testing.T) {
	m := NewSynthetic(8)

	tests := []struct {
		name string
		in   Input
	}{
		{"empty", Input{}},
		{"from past end", Input{Tokens: []int{1}, From: 1}},
		{"negative from", Input{Tokens: []int{1}, From: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Forward(context.Background(), []Input{tt.in})
			assert.True(t, errors.Is(err, ErrBadInput))
		})
	}
}

func TestSyntheticHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSynthetic(8).Forward(ctx, []Input{{Tokens: []int{1}}})
	assert.ErrorIs(t, err, context.Canceled)
}
