// Package transcript post-processes speech-to-text output.
//
// Recognisers regularly mishear domain vocabulary such as product names,
// people or places. A [Corrector] aligns transcript words against a
// configured vocabulary using Double Metaphone phonetic codes combined with
// Jaro-Winkler similarity, and substitutes the canonical spelling.
//
// The matching proceeds in two stages per candidate span:
//
//  1. Phonetic gate: Double Metaphone codes are computed for every token of
//     the span and of the vocabulary term. When the code sets overlap, the
//     term is a phonetic candidate and needs a Jaro-Winkler score of at least
//     the phonetic threshold (default 0.70).
//
//  2. Fuzzy fallback: without phonetic overlap, the term still matches when
//     the score reaches the higher fuzzy threshold (default 0.85).
//
// Spans are compared with their spaces removed so that a split rendering
// ("elder nacks") can match a single-word term ("Eldrinax"). A span may be at
// most one token longer than the term and its letters must be of similar
// length, which keeps neighbouring words from being absorbed into a match.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// maxLengthSkew is the largest allowed letter-count difference between a
	// span and a term, as a fraction of the longer of the two.
	maxLengthSkew = 0.25
)

// Correction records one substitution.
type Correction struct {
	// Original is the span as recognised.
	Original string `json:"original"`

	// Corrected is the vocabulary term that replaced it.
	Corrected string `json:"corrected"`

	// Confidence is the Jaro-Winkler score of the match in [0, 1].
	Confidence float64 `json:"confidence"`

	// Phonetic reports whether the match passed the phonetic gate.
	Phonetic bool `json:"phonetic"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// term is a vocabulary entry with its matching data precomputed.
type term struct {
	text   string
	words  int
	concat string
	codes  map[string]struct{}
}

// Corrector substitutes vocabulary terms into transcripts. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector for vocab. Blank entries are ignored.
func New(vocab []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocab {
		tokens := normalizeTokens(strings.Fields(v))
		concat := strings.Join(tokens, "")
		if concat == "" {
			continue
		}
		c.terms = append(c.terms, term{
			text:   strings.Join(strings.Fields(v), " "),
			words:  len(tokens),
			concat: concat,
			codes:  codesForTokens(append(tokens, concat)),
		})
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Len returns the number of usable vocabulary terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with misrecognised vocabulary replaced, plus the list
// of substitutions in order. Longer spans are tried first at every position.
// Punctuation around a replaced span is preserved.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}
	norm := normalizeTokens(tokens)

	var (
		out         = make([]string, 0, len(tokens))
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, best, ok := c.matchAt(norm, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		original := strings.Join(tokens[i:i+n], " ")
		lead, _ := splitPunct(tokens[i])
		_, trail := splitPunct(tokens[i+n-1])
		replaced := lead + best.text + trail
		out = append(out, replaced)
		if replaced != original {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  best.text,
				Confidence: best.score,
				Phonetic:   best.phonetic,
			})
		}
		i += n
	}
	return strings.Join(out, " "), corrections
}

type match struct {
	text     string
	score    float64
	phonetic bool
}

// matchAt finds the longest span starting at i that matches a term.
func (c *Corrector) matchAt(norm []string, i int) (int, match, bool) {
	for n := min(c.maxWords+1, len(norm)-i); n >= 1; n-- {
		span := norm[i : i+n]
		concat := strings.Join(span, "")
		if concat == "" {
			continue
		}
		codes := codesForTokens(append(append([]string(nil), span...), concat))

		var best match
		for _, t := range c.terms {
			if n > t.words+1 || !similarLength(concat, t.concat) {
				continue
			}
			score := matchr.JaroWinkler(concat, t.concat, false)
			phonetic := codesOverlap(codes, t.codes)
			switch {
			case phonetic && score >= c.phoneticThreshold:
				if !best.phonetic || score > best.score {
					best = match{text: t.text, score: score, phonetic: true}
				}
			case !phonetic && !best.phonetic && score >= c.fuzzyThreshold && score > best.score:
				best = match{text: t.text, score: score}
			}
		}
		if best.text != "" {
			return n, best, true
		}
	}
	return 0, match{}, false
}

// normalizeTokens lowercases tokens and strips surrounding punctuation.
func normalizeTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		lead, trail := splitPunct(t)
		out[i] = strings.ToLower(t[len(lead) : len(t)-len(trail)])
	}
	return out
}

// splitPunct returns the leading and trailing punctuation of tok.
func splitPunct(tok string) (lead, trail string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	core := strings.TrimLeftFunc(tok, isPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	trail = core[len(trimmed):]
	return lead, trail
}

func similarLength(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= maxLengthSkew*float64(max(la, lb))
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		if t == "" {
			continue
		}
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
