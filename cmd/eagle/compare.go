package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

var defaultComparePrompts = []string{
	"The capital of France is",
	"The president of the United States is",
}

type comparison struct {
	Prompt    string
	Spec      engine.Output
	Reference engine.Output
}

func (c comparison) Match() bool {
	return c.Spec.Text == c.Reference.Text
}

// compare runs prompts through a speculative engine built from cfg and a
// target-only engine built from the same configuration.
func compare(ctx context.Context, cfg config.Config, tok *tokenizer.Tokenizer, prompts []string, params engine.Params) ([]comparison, error) {
	spec, err := buildEngine(cfg, tok)
	if err != nil {
		return nil, fmt.Errorf("speculative engine: %w", err)
	}
	defer spec.Close()

	ref, err := buildEngine(cfg.Reference(), tok)
	if err != nil {
		return nil, fmt.Errorf("reference engine: %w", err)
	}
	defer ref.Close()

	specOut, err := spec.GenerateBatch(ctx, prompts, params)
	if err != nil {
		return nil, fmt.Errorf("speculative run: %w", err)
	}
	refOut, err := ref.GenerateBatch(ctx, prompts, params)
	if err != nil {
		return nil, fmt.Errorf("reference run: %w", err)
	}

	results := make([]comparison, len(prompts))
	for i, p := range prompts {
		results[i] = comparison{Prompt: p, Spec: specOut[i], Reference: refOut[i]}
	}
	return results, nil
}

func report(w io.Writer, results []comparison) (mismatches int) {
	var drafted, accepted int
	for _, r := range results {
		status := "MATCH"
		if !r.Match() {
			status = "MISMATCH"
			mismatches++
		}
		drafted += r.Spec.Drafted
		accepted += r.Spec.Accepted
		fmt.Fprintf(w, "[%s] %q\n  speculative: %s\n  reference:   %s\n  acceptance:  %.3f (%d/%d)\n",
			status, r.Prompt, r.Spec.Text, r.Reference.Text, r.Spec.AcceptanceRate(), r.Spec.Accepted, r.Spec.Drafted)
	}
	rate := 0.0
	if drafted > 0 {
		rate = float64(accepted) / float64(drafted)
	}
	fmt.Fprintf(w, "%d/%d prompts identical, overall acceptance %.3f\n", len(results)-mismatches, len(results), rate)
	return mismatches
}

func compareCmd() *cli.Command {
	return &cli.Command{
		Name:      "compare",
		Usage:     "Check that speculative and target-only decoding produce the same text",
		ArgsUsage: "[prompt...]",
		Flags:     decodingFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			prompts := defaultComparePrompts
			if cmd.Args().Len() > 0 {
				prompts = cmd.Args().Slice()
			}
			n := maxTokens
			if !cmd.IsSet("max-tokens") {
				n = 10
			}

			tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			results, err := compare(ctx, cfg, tok, prompts, engine.Params{MaxTokens: n, IgnoreEOS: ignoreEOS})
			if err != nil {
				return err
			}
			if mismatches := report(os.Stdout, results); mismatches > 0 {
				if cfg.IsGreedy() {
					return fmt.Errorf("%d of %d prompts differ under greedy decoding", mismatches, len(results))
				}
				fmt.Fprintln(os.Stderr, "note: outputs may differ when temperature > 0")
			}
			return nil
		},
	}
}
