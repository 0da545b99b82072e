package lexical

import "github.com/mingdodev/korean-writing-feedback-rag/internal/domain"

// posCategory groups morphological tags into the coarse categories the
// standardization transform branches on.
type posCategory int

const (
	catNoun posCategory = iota
	catDependentNoun
	catVerb
	catAuxiliary
	catAdjective
	catParticle
	catEnding
	catOther
)

// categorySets maps each category to the set of concrete tags it covers.
// Mirrors the upstream morphological analyzer's tag grammar; treated as an
// opaque external contract, not reimplemented beyond this lookup table.
var categorySets = map[posCategory]map[string]struct{}{
	catNoun:          set("NNG", "NNP", "NR", "NP"),
	catDependentNoun: set("NNB"),
	catVerb:          set("VV", "VCP", "VCN"),
	catAuxiliary:     set("VX"),
	catAdjective:     set("VA"),
	catParticle:      set("JKS", "JKC", "JKG", "JKO", "JKB", "JKV", "JKQ", "JX", "JC"),
	catEnding:        set("EP", "EF", "EC", "ETN", "ETM"),
}

func set(tags ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		m[t] = struct{}{}
	}
	return m
}

func isCategory(tag string, cat posCategory) bool {
	_, ok := categorySets[cat][tag]
	return ok
}

const hangulBase = 0xAC00
const hangulLast = 0xD7A3

// hasFinalConsonant reports whether s's last syllable carries a trailing
// consonant (받침), using Hangul syllable-block arithmetic. Characters
// outside the precomposed Hangul syllable range never produce a final
// consonant.
func hasFinalConsonant(s string) bool {
	r := lastRune(s)
	if r == 0 || r < hangulBase || r > hangulLast {
		return false
	}
	return (r-hangulBase)%28 != 0
}

// hasPositiveVowel reports whether s's last syllable's medial vowel is ㅏ
// or ㅗ (the vowel-harmony "positive" class).
func hasPositiveVowel(s string) bool {
	r := lastRune(s)
	if r == 0 || r < hangulBase || r > hangulLast {
		return false
	}
	vowelIdx := ((r - hangulBase) / 28) % 21
	return vowelIdx == 0 || vowelIdx == 8
}

func lastRune(s string) rune {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}
	return runes[len(runes)-1]
}

// standardizeWord applies the deterministic standardization transform to a
// single word's morpheme group, per the category table:
//
//   - particle, ending, dependent noun, auxiliary: morpheme surface form verbatim
//   - noun: tag + "_O"/"_X" by final-consonant presence
//   - verb, adjective: tag + "_O"/"_X" + "_P"/"_N" by vowel-harmony polarity
//   - anything else: the tag alone
//
// The "_O"/"_X" suffix is added only when the surface form ends in a
// precomposed Hangul syllable. Per-morpheme emissions are concatenated without separators.
func standardizeWord(w domain.Word) string {
	if len(w.Morphs) == 0 {
		return ""
	}
	var out []byte
	for _, m := range w.Morphs {
		if m.Surface == "" {
			continue
		}
		switch {
		case isCategory(m.Tag, catParticle), isCategory(m.Tag, catEnding),
			isCategory(m.Tag, catDependentNoun), isCategory(m.Tag, catAuxiliary):
			out = append(out, m.Surface...)
		case isCategory(m.Tag, catNoun), isCategory(m.Tag, catVerb), isCategory(m.Tag, catAdjective):
			tag := m.Tag
			if r := lastRune(m.Surface); r >= hangulBase && r <= hangulLast {
				if hasFinalConsonant(m.Surface) {
					tag += "_O"
				} else {
					tag += "_X"
				}
			}
			if isCategory(m.Tag, catVerb) || isCategory(m.Tag, catAdjective) {
				if hasPositiveVowel(m.Surface) {
					tag += "_P"
				} else {
					tag += "_N"
				}
			}
			out = append(out, tag...)
		default:
			out = append(out, m.Tag...)
		}
	}
	return string(out)
}

// normalizedQuery joins the per-word standardized emissions with a single
// space to form the lexical query string. Returns "" for an empty word
// list.
func normalizedQuery(words []domain.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		p := standardizeWord(w)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	joined := parts[0]
	for _, p := range parts[1:] {
		joined += " " + p
	}
	return joined
}
