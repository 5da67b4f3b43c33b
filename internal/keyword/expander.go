package keyword

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

const (
	ExpanderIdentity      = "identity"
	ExpanderMorphological = "morphological"
)

// minStemRunes keeps very short stems from matching unrelated words.
const minStemRunes = 3

var stemLanguages = map[string]bool{
	"english":   true,
	"french":    true,
	"hungarian": true,
	"norwegian": true,
	"russian":   true,
	"spanish":   true,
	"swedish":   true,
}

type TermExpander interface {
	// Expand returns every folded surface form that counts as an
	// occurrence of term. The result always contains term itself.
	Expand(term string) []string
}

type IdentityExpander struct{}

func (IdentityExpander) Expand(term string) []string {
	return []string{term}
}

// Lexicon maps a lemma to its inflected forms.
type Lexicon map[string][]string

func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}

	fold := cases.Fold()
	lex := make(Lexicon, len(raw))
	for lemma, forms := range raw {
		key := fold.String(strings.TrimSpace(lemma))
		for _, f := range forms {
			if f = strings.TrimSpace(f); f != "" {
				lex[key] = append(lex[key], fold.String(f))
			}
		}
	}

	return lex, nil
}

// MorphologicalExpander adds the lexicon forms of a term and its snowball
// stem. Substring matching against the stem covers regular inflections the
// lexicon does not list.
type MorphologicalExpander struct {
	language string
	lexicon  Lexicon
}

func NewMorphologicalExpander(language string, lexicon Lexicon) (*MorphologicalExpander, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if !stemLanguages[language] {
		return nil, fmt.Errorf("unsupported stemming language: %s", language)
	}

	return &MorphologicalExpander{language: language, lexicon: lexicon}, nil
}

func (e *MorphologicalExpander) Expand(term string) []string {
	forms := []string{term}
	seen := map[string]bool{term: true}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			forms = append(forms, f)
		}
	}

	for _, f := range e.lexicon[term] {
		add(f)
	}

	stem, err := snowball.Stem(term, e.language, true)
	if err == nil && utf8.RuneCountInString(stem) >= minStemRunes {
		add(stem)
	}

	return forms
}

type ExpanderConfig struct {
	Kind        string `mapstructure:"expander"`
	Language    string `mapstructure:"language"`
	LexiconPath string `mapstructure:"lexicon_path"`
}

func NewExpander(cfg ExpanderConfig) (TermExpander, error) {
	switch cfg.Kind {
	case "", ExpanderIdentity:
		return IdentityExpander{}, nil
	case ExpanderMorphological:
		var lex Lexicon
		if cfg.LexiconPath != "" {
			var err error
			if lex, err = LoadLexicon(cfg.LexiconPath); err != nil {
				return nil, err
			}
		}
		return NewMorphologicalExpander(cfg.Language, lex)
	default:
		return nil, fmt.Errorf("unknown term expander: %s", cfg.Kind)
	}
}
