// Package keyword filters harvested comments by keyword relevance.
// Each keyword is expanded into the surface forms it may take in text by a
// TermExpander; a comment matches when its folded text contains a form of
// any (ModeAny) or every (ModeAll) keyword.
package keyword

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

type Mode string

const (
	ModeAny Mode = "any"
	ModeAll Mode = "all"
)

// ParseMode accepts the legacy "or"/"and" spellings as well as "any"/"all".
// An empty string selects ModeAny.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or", "any":
		return ModeAny, nil
	case "and", "all":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("unknown keyword mode %q (available: any, all, or, and)", s)
	}
}

type Spec struct {
	Terms []string `json:"terms"`
	Mode  Mode     `json:"mode"`
}

func NewSpec(terms []string, mode Mode) Spec {
	if mode == "" {
		mode = ModeAny
	}
	return Spec{Terms: NormalizeTerms(terms), Mode: mode}
}

func (s Spec) Empty() bool {
	return len(s.Terms) == 0
}

// ParseTerms splits a comma separated keyword list as typed in a form.
func ParseTerms(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeTerms(strings.Split(raw, ","))
}

// NormalizeTerms trims and case-folds terms, dropping empty ones.
func NormalizeTerms(terms []string) []string {
	fold := cases.Fold()
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		out = append(out, fold.String(term))
	}
	return out
}
