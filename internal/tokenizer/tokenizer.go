// Package tokenizer is a word-level tokenizer over a fixed vocabulary. It
// turns prompts into ids for the synthetic runtime and ids back into text.
package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	UnkToken = "<unk>"
	BosToken = "<s>"
	EosToken = "</s>"
)

type Tokenizer struct {
	Tokens []string
	Vocab  map[string]int

	unk, bos, eos int
}

// New builds a tokenizer whose first three ids are <unk>, <s> and </s>,
// followed by words in order. Words are matched case-insensitively and
// duplicates keep their first id.
func New(words []string) *Tokenizer {
	t := &Tokenizer{Vocab: make(map[string]int, len(words)+3)}
	for _, w := range append([]string{UnkToken, BosToken, EosToken}, words...) {
		key := strings.ToLower(strings.TrimSpace(w))
		if key == "" {
			continue
		}
		if _, ok := t.Vocab[key]; ok {
			continue
		}
		t.Vocab[key] = len(t.Tokens)
		t.Tokens = append(t.Tokens, key)
	}
	t.unk = t.Vocab[UnkToken]
	t.bos = t.Vocab[BosToken]
	t.eos = t.Vocab[EosToken]
	return t
}

// Load reads one word per line.
func Load(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}
	return New(words), nil
}

// Default returns the built-in English vocabulary.
func Default() *Tokenizer {
	return New(defaultWords)
}

func (t *Tokenizer) VocabSize() int { return len(t.Tokens) }
func (t *Tokenizer) UnkID() int     { return t.unk }
func (t *Tokenizer) BosID() int     { return t.bos }
func (t *Tokenizer) EosID() int     { return t.eos }

// IsSpecial reports whether id is one of <unk>, <s>, </s>.
func (t *Tokenizer) IsSpecial(id int) bool {
	return id == t.unk || id == t.bos || id == t.eos
}

// Encode splits on whitespace and strips surrounding punctuation. Unknown
// words map to <unk>. The result starts with <s>.
func (t *Tokenizer) Encode(text string) []int {
	words := strings.Fields(text)
	ids := make([]int, 0, len(words)+1)
	ids = append(ids, t.bos)
	for _, w := range words {
		key := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if key == "" {
			continue
		}
		if id, ok := t.Vocab[key]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.unk)
		}
	}
	return ids
}

// Decode joins words with single spaces, skipping special and out-of-range ids.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.Tokens) || t.IsSpecial(id) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Tokens[id])
	}
	return sb.String()
}
