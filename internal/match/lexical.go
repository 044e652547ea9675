// Package match implements the cost-ordered matching cascade: lexical
// overlap, semantic similarity, then external verification.
package match

import (
	"strings"

	"github.com/adorofeev/keywatch/internal/db"
	"github.com/adorofeev/keywatch/internal/textnorm"
)

const (
	ngramSize = 3

	// Containment floor for a single keyword's n-grams inside the message.
	keywordFloor = 0.5

	// Negative keywords veto at the same floor, or on plain substring.
	negativeFloor = 0.5

	// Bonus weight for multi-word keywords whose word shingles appear intact.
	shingleBonusWeight = 0.25
)

// MessageProfile is the per-message precomputation shared across all
// subscription evaluations for that message. Build it once, read it from any
// number of goroutines.
type MessageProfile struct {
	Normalized string
	NGrams     textnorm.Set
	Shingles   textnorm.Set
}

// NewMessageProfile normalizes and tokenizes a message once.
func NewMessageProfile(text string) *MessageProfile {
	return &MessageProfile{
		Normalized: textnorm.Normalize(text),
		NGrams:     textnorm.NGrams(text, ngramSize),
		Shingles:   textnorm.WordShingles(text, 2),
	}
}

// LexicalResult is the outcome of the cheap first stage.
type LexicalResult struct {
	// MatchedNegative is the negative keyword that vetoed the message,
	// empty when no negative matched.
	MatchedNegative string
	Score           float64
}

// LexicalScorer computes keyword overlap scores. Stateless; one instance
// serves all goroutines.
type LexicalScorer struct{}

// NewLexicalScorer creates a lexical scorer
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Score evaluates a subscription's keyword sets against a message profile.
// Negative keywords are checked first and veto unconditionally: any hit
// returns a zero score regardless of positive overlap. The positive score is
// the fraction of positive keywords found in the message plus a shingle bonus
// for multi-word keywords that appear intact, capped at 1. More or better
// keyword hits never lower the score.
func (s *LexicalScorer) Score(profile *MessageProfile, sub *db.Subscription) LexicalResult {
	for _, neg := range sub.NegativeKeywords {
		if s.keywordHits(profile, neg, negativeFloor) {
			return LexicalResult{MatchedNegative: neg, Score: 0}
		}
	}

	if len(sub.PositiveKeywords) == 0 {
		return LexicalResult{}
	}

	matched := 0
	shingleHits := 0
	multiWord := 0

	for _, kw := range sub.PositiveKeywords {
		if s.keywordHits(profile, kw, keywordFloor) {
			matched++
		}

		words := textnorm.Tokens(kw)
		if len(words) < 2 {
			continue
		}
		multiWord++
		if textnorm.WordShingles(kw, 2).Overlap(profile.Shingles) > 0 {
			shingleHits++
		}
	}

	score := float64(matched) / float64(len(sub.PositiveKeywords))
	if multiWord > 0 {
		// Blend in the shingle bonus so the total stays in [0, 1]
		// while intact phrases still outrank scattered words.
		score = (1-shingleBonusWeight)*score +
			shingleBonusWeight*float64(shingleHits)/float64(multiWord)
	}

	return LexicalResult{Score: score}
}

// keywordHits reports whether a single keyword is present in the message:
// either as a normalized substring or by n-gram containment at or above the
// floor.
func (s *LexicalScorer) keywordHits(profile *MessageProfile, keyword string, floor float64) bool {
	normalized := textnorm.Normalize(keyword)
	if normalized == "" {
		return false
	}

	if strings.Contains(profile.Normalized, normalized) {
		return true
	}

	grams := textnorm.NGrams(keyword, ngramSize)
	if len(grams) == 0 {
		return false
	}

	containment := float64(grams.Overlap(profile.NGrams)) / float64(len(grams))
	return containment >= floor
}
