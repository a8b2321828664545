package main

import (
	"fmt"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

func loadTokenizer() (*tokenizer.Tokenizer, error) {
	if vocabPath == "" {
		return tokenizer.Default(), nil
	}
	tok, err := tokenizer.Load(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}
	return tok, nil
}

// buildEngine wires synthetic runtimes for cfg into an engine.
func buildEngine(cfg config.Config, tok *tokenizer.Tokenizer, opts ...engine.Option) (*engine.Engine, error) {
	target, draft := engine.SyntheticRuntimes(cfg, tok)
	if draft == nil {
		return engine.New(cfg, target, nil, tok, opts...)
	}
	return engine.New(cfg, target, draft, tok, opts...)
}
