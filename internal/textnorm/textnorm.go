// Package textnorm turns free-form ticket text into the canonical form used
// for embedding and keyword extraction.
package textnorm

import (
	"sort"
	"strings"
	"unicode"
)

// MaxKeywords is the number of keywords ExtractKeywords returns at most.
const MaxKeywords = 10

var stopWords = toSet(
	"the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"from", "up", "about", "into", "through", "during", "before", "after", "above",
	"below", "between", "among", "is", "was", "are", "were", "be", "been", "being",
	"have", "has", "had", "do", "does", "did", "will", "would", "could", "should",
	"may", "might", "must", "a", "an", "this", "that", "these", "those", "i", "you",
	"he", "she", "it", "we", "they", "my", "your", "his", "her", "its", "our", "their",
)

// Short helpdesk terms that are kept as keywords even at length 3 or 4.
var domainTerms = toSet(
	"vpn", "printer", "computer", "laptop", "password", "email", "wifi", "internet",
	"software", "hardware", "network", "server", "database", "login", "access",
	"permission", "account", "system", "application", "error", "bug", "crash",
	"freeze", "slow", "install", "update", "payroll", "salary", "expense", "invoice",
	"budget", "leave", "vacation", "policy", "procedure", "meeting", "room",
	"booking", "schedule",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether w is dropped by Normalize.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// IsDomainTerm reports whether w is on the helpdesk keyword allowlist.
func IsDomainTerm(w string) bool {
	_, ok := domainTerms[w]
	return ok
}

func isWordRune(r rune) bool {
	return r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

// Tokens returns the normalized tokens of raw in order.
func Tokens(raw string) []string {
	lowered := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, raw)

	fields := strings.Fields(lowered)
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 || IsStopWord(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Normalize lowercases raw, replaces punctuation with spaces and drops short
// tokens and stop words. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	return strings.Join(Tokens(raw), " ")
}

// ExtractKeywords returns up to MaxKeywords distinct terms from raw ordered by
// descending frequency. Ties keep the order of first appearance.
func ExtractKeywords(raw string) []string {
	counts := make(map[string]int)
	var order []string
	for _, tok := range Tokens(raw) {
		if len(tok) <= 3 && !IsDomainTerm(tok) {
			continue
		}
		if _, seen := counts[tok]; !seen {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	if order == nil {
		return []string{}
	}
	return order
}
