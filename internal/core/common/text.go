package common

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// stopWords are dropped from search tokens.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "any": true, "are": true, "as": true,
	"at": true, "be": true, "been": true, "by": true, "did": true, "do": true,
	"does": true, "for": true, "from": true, "had": true, "has": true,
	"have": true, "how": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"their": true, "there": true, "this": true, "to": true, "was": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "with": true,
}

// Fold case-folds s.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeName is the identity form of an entity name: case-folded,
// trimmed, inner whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(Fold(name)), " ")
}

// NormalizeFact is the comparison form of fact text. Two facts whose
// normalized text is equal are the same assertion.
func NormalizeFact(text string) string {
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRight(text, ".,!?;: ")
}

// RelationType turns free-form relation names ("installed in",
// "Installed-In") into UPPER_SNAKE form.
func RelationType(t string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(t) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// Tokenize splits text into folded search tokens, dropping stop words and
// reducing simple plurals.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		out = append(out, stem(w))
	}
	return out
}

// TokenSet is Tokenize deduplicated, preserving first-seen order.
func TokenSet(texts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range texts {
		for _, tok := range Tokenize(t) {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	}
	return w
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero, or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZeroVector reports whether v carries no direction.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// IsScalar reports whether v is a JSON scalar: string, number, bool or null.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}
