package trigger

import (
	"strings"

	"autoflow.app/relay/internal/model"
)

// KeywordRule is a case-insensitive text filter shared by every provider.
type KeywordRule struct {
	Mode    model.KeywordMatchMode
	Filters []string
}

func newKeywordRule(mode model.KeywordMatchMode, filters []string) KeywordRule {
	cleaned := make([]string, 0, len(filters))
	for _, f := range filters {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			cleaned = append(cleaned, f)
		}
	}
	switch mode {
	case model.KeywordMatchAll, model.KeywordMatchExact:
	default:
		mode = model.KeywordMatchAny
	}
	return KeywordRule{Mode: mode, Filters: cleaned}
}

// Matches reports whether text passes the rule. An empty filter list always
// passes.
func (k KeywordRule) Matches(text string) bool {
	return MatchKeywords(text, k.Filters, k.Mode)
}

// MatchKeywords case-folds text and filters, then applies mode:
// any needs one filter as a substring, all needs every filter as a substring,
// exact needs the whole text to equal one filter.
func MatchKeywords(text string, filters []string, mode model.KeywordMatchMode) bool {
	folded := make([]string, 0, len(filters))
	for _, f := range filters {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			folded = append(folded, f)
		}
	}
	if len(folded) == 0 {
		return true
	}

	text = strings.ToLower(text)

	switch mode {
	case model.KeywordMatchAll:
		for _, f := range folded {
			if !strings.Contains(text, f) {
				return false
			}
		}
		return true
	case model.KeywordMatchExact:
		text = strings.TrimSpace(text)
		for _, f := range folded {
			if text == f {
				return true
			}
		}
		return false
	default:
		for _, f := range folded {
			if strings.Contains(text, f) {
				return true
			}
		}
		return false
	}
}
