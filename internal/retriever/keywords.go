package retriever

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"and": {}, "or": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "did": {}, "does": {}, "with": {}, "at": {}, "by": {}, "from": {}, "as": {},
	"it": {}, "that": {}, "this": {}, "these": {}, "those": {}, "we": {}, "you": {}, "i": {},
	"what": {}, "why": {}, "how": {}, "who": {}, "which": {},
}

// KeywordTokens lowercases, strips punctuation, and drops stopwords from a
// query string, leaving the content words used for keyword search. Exported
// so callers outside this package (the db_query subagent) can tokenize a
// query the same way the fact keyword stream does.
func KeywordTokens(query string) []string {
	return keywordTokens(query)
}

// keywordTokens lowercases, strips punctuation, and drops stopwords from a
// query string, leaving the content words used for the keyword stream.
func keywordTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
