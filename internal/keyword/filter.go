package keyword

import (
	"slices"
	"strings"

	"github.com/nadmax/harvq/internal/record"
	"golang.org/x/text/cases"
)

type Filter struct {
	expander TermExpander
}

func NewFilter(expander TermExpander) *Filter {
	if expander == nil {
		expander = IdentityExpander{}
	}
	return &Filter{expander: expander}
}

// Apply returns the comments matching spec in their original order. With no
// terms every comment passes.
func (f *Filter) Apply(comments []record.Comment, spec Spec) []record.Comment {
	terms := NormalizeTerms(spec.Terms)
	if len(terms) == 0 {
		return slices.Clone(comments)
	}

	forms := make([][]string, len(terms))
	for i, term := range terms {
		forms[i] = f.expander.Expand(term)
	}

	fold := cases.Fold()
	out := make([]record.Comment, 0, len(comments))
	for _, c := range comments {
		text := fold.String(c.Text)
		if matches(text, forms, spec.Mode) {
			out = append(out, c)
		}
	}

	return out
}

func matches(text string, forms [][]string, mode Mode) bool {
	if mode == ModeAll {
		for _, fs := range forms {
			if !containsAny(text, fs) {
				return false
			}
		}
		return true
	}

	for _, fs := range forms {
		if containsAny(text, fs) {
			return true
		}
	}
	return false
}

func containsAny(text string, forms []string) bool {
	for _, f := range forms {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}
