// Package sentence implements sentence splitting and error-candidate
// tagging (C5): it splits a composition body into sentences and scores each
// one heuristically to flag candidates worth sending through the grammar
// feedback pipeline.
package sentence

import (
	"context"
	"strings"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/morph"
)

// defaultErrorThreshold is the score at or above which a sentence is tagged as an
// error candidate.
const defaultErrorThreshold = 6.0

// analysisFailurePenalty is added to the threshold (guaranteeing candidacy)
// when morphological analysis of a sentence fails outright.
const analysisFailurePenalty = 10.0

// Splitter splits composition bodies into sentences and tags error
// candidates using an external morphological analyzer.
type Splitter struct {
	analyzer       morph.Analyzer
	errorThreshold float64
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithErrorThreshold overrides the default error-candidate score threshold.
func WithErrorThreshold(threshold float64) Option {
	return func(s *Splitter) {
		s.errorThreshold = threshold
	}
}

// New creates a Splitter backed by analyzer.
func New(analyzer morph.Analyzer, opts ...Option) *Splitter {
	s := &Splitter{analyzer: analyzer, errorThreshold: defaultErrorThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Split splits contents into an ordered list of sentences, each tagged with
// IsErrorCandidate when its heuristic error score meets the threshold.
// A per-sentence analysis failure does not fail the whole split: it scores
// that sentence as a guaranteed candidate, mirroring the upstream
// heuristic's "can't parse it, so flag it" rule.
func (s *Splitter) Split(ctx context.Context, contents string) ([]domain.Sentence, error) {
	raw, err := s.analyzer.SplitSentences(ctx, contents)
	if err != nil {
		return nil, err
	}

	sentences := make([]domain.Sentence, 0, len(raw))
	for idx, text := range raw {
		text = strings.TrimSpace(text)
		sent := domain.Sentence{
			SentenceID:       idx,
			OriginalSentence: text,
		}

		words, analyzeErr := s.analyzer.Analyze(ctx, text)
		var score float64
		if analyzeErr != nil {
			score = s.errorThreshold + analysisFailurePenalty
		} else {
			sent.Words = words
			score = calculateErrorScore(text, words)
		}
		sent.IsErrorCandidate = score >= s.errorThreshold

		sentences = append(sentences, sent)
	}
	return sentences, nil
}

// subjectCandidateTags and verbCandidateTags mirror the upstream heuristic's coarse tag
// groups for subject/predicate-candidate detection.
var subjectCandidateTags = map[string]struct{}{"NP": {}, "NNG": {}}
var verbCandidateTags = map[string]struct{}{"VV": {}, "VA": {}}
var unknownTags = map[string]struct{}{"SL": {}, "SW": {}}

// calculateErrorScore scores sentence using its morpheme tags, per the rules:
//
//   - missing subject/predicate agreement: no subject candidate but at
//     least one predicate candidate, or no predicate candidate in a
//     sentence with more than 5 morphemes: +4
//   - particle ("J"-prefixed) or ending ("E"-prefixed) tag count above 3: +3
//   - any unregistered/foreign-script tag (SL, SW) present: +2
//   - sentence text longer than 80 runes: +1; shorter than 3 runes: -1
//
// The result is floored at 0.
func calculateErrorScore(text string, words []domain.Word) float64 {
	morphs := flattenMorphs(words)

	var score float64

	isSubjectParticle := func(tag string) bool { return tag == "JKS" || tag == "JX" }
	hasSubjectNoun, hasSubjectParticle, hasVerbCandidate := false, false, false
	var jCount, eCount int
	hasUnknown := false

	for _, m := range morphs {
		if _, ok := subjectCandidateTags[m.Tag]; ok {
			hasSubjectNoun = true
		}
		if isSubjectParticle(m.Tag) {
			hasSubjectParticle = true
		}
		if _, ok := verbCandidateTags[m.Tag]; ok {
			hasVerbCandidate = true
		}
		if strings.HasPrefix(m.Tag, "J") {
			jCount++
		}
		if strings.HasPrefix(m.Tag, "E") {
			eCount++
		}
		if _, ok := unknownTags[m.Tag]; ok {
			hasUnknown = true
		}
	}
	hasSubjectCandidate := hasSubjectNoun && hasSubjectParticle

	if (!hasSubjectCandidate && hasVerbCandidate) || (!hasVerbCandidate && len(morphs) > 5) {
		score += 4.0
	}
	if jCount > 3 || eCount > 3 {
		score += 3.0
	}
	if hasUnknown {
		score += 2.0
	}

	length := len([]rune(text))
	switch {
	case length > 80:
		score += 1.0
	case length < 3:
		score -= 1.0
	}

	if score < 0 {
		score = 0
	}
	return score
}

func flattenMorphs(words []domain.Word) []domain.Morph {
	var out []domain.Morph
	for _, w := range words {
		out = append(out, w.Morphs...)
	}
	return out
}
