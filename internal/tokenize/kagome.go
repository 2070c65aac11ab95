package tokenize

import (
	"fmt"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// contentPOS lists the parts of speech kept for search. Particles and
// auxiliaries are noise for retrieval.
var contentPOS = []string{"名詞", "動詞", "形容詞", "副詞"}

// Kagome is a morphological tokenizer over the IPA dictionary. It keeps
// content words and reduces them to their dictionary form, so 動いた and
// 動く index as the same term.
type Kagome struct {
	t *tokenizer.Tokenizer
}

// NewKagome loads the IPA dictionary.
func NewKagome() (k *Kagome, err error) {
	defer func() {
		if r := recover(); r != nil {
			k, err = nil, fmt.Errorf("load ipa dictionary: %v", r)
		}
	}()

	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("create kagome tokenizer: %w", err)
	}
	return &Kagome{t: t}, nil
}

// Tokenize implements Tokenizer.
func (k *Kagome) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for _, tok := range k.t.Tokenize(text) {
		if tok.Class == tokenizer.DUMMY || tok.Surface == "" {
			continue
		}
		pos := tok.POS()
		if len(pos) == 0 || !isContentPOS(pos[0]) {
			continue
		}
		term := tok.Surface
		if base, ok := tok.BaseForm(); ok && base != "" && base != "*" {
			term = base
		}
		out = append(out, term)
	}
	return out
}

// Available implements Tokenizer.
func (k *Kagome) Available() bool { return true }

// Name implements Tokenizer.
func (k *Kagome) Name() string { return "kagome-ipa" }

func isContentPOS(pos string) bool {
	for _, p := range contentPOS {
		if strings.HasPrefix(pos, p) {
			return true
		}
	}
	return false
}
