package engine

import (
	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/model"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

const draftNoiseSalt = 0xd1b54a32d192ed03

// SyntheticRuntimes builds a matched target/draft pair over the tokenizer's
// vocabulary. In one-model mode the target carries a draft head and the
// returned draft is nil.
func SyntheticRuntimes(cfg config.Config, tok *tokenizer.Tokenizer) (target, draft *model.Synthetic) {
	common := []model.SyntheticOption{
		model.WithSeed(cfg.VocabSeed),
		model.WithWindow(cfg.ContextWindow),
		model.WithSuppressed(tok.UnkID(), tok.BosID()),
	}

	if cfg.OneModel {
		opts := append(common, model.WithDraftHead(cfg.DraftNoise, cfg.VocabSeed^draftNoiseSalt))
		return model.NewSynthetic(tok.VocabSize(), opts...), nil
	}

	target = model.NewSynthetic(tok.VocabSize(), common...)
	opts := append(common, model.WithNoise(cfg.DraftNoise, cfg.VocabSeed^draftNoiseSalt))
	draft = model.NewSynthetic(tok.VocabSize(), opts...)
	return target, draft
}
