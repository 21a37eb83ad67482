// Package textutil provides text normalization and string-similarity
// primitives shared by deduplication and preprocessing.
package textutil

import (
	"net/url"
	"sort"
	"strings"
)

// NormalizeTitle lowercases a title and collapses internal whitespace.
func NormalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(t))), " ")
}

// NormalizeURL canonicalizes a URL for exact-match comparison: lowercased
// scheme/host, fragment removed, common tracking query parameters dropped,
// trailing slash trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimRight(u.String(), "/")
}

// Domain extracts the lowercased host from a URL, without a www. prefix.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// TokenSortRatio compares two strings after lowercasing, tokenizing and
// sorting their tokens. Returns a similarity in [0,1].
func TokenSortRatio(a, b string) float64 {
	return Ratio(tokenSort(a), tokenSort(b))
}

func tokenSort(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Ratio returns a Levenshtein-based similarity in [0,1]: identical strings
// score 1, fully dissimilar strings score 0.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0.0
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Tokens lowercases text and splits it into alphanumeric terms of length >= 3,
// excluding stopwords. Used for topic and keyword overlap checks.
func Tokens(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	terms := make(map[string]bool)
	for _, w := range words {
		if len(w) >= 3 && !stopWords[w] {
			terms[w] = true
		}
	}
	return terms
}

// ContainsAny reports whether any of the needles occurs in the haystack,
// case-insensitively.
func ContainsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"this": true, "that": true, "these": true, "those": true, "but": true,
	"from": true, "with": true, "about": true, "into": true, "after": true,
	"its": true, "which": true, "who": true, "what": true, "when": true,
	"where": true, "how": true, "why": true, "not": true, "all": true,
	"can": true, "more": true, "new": true, "said": true, "says": true,
}
