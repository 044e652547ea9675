package match

import (
	"testing"

	"github.com/google/uuid"

	"github.com/adorofeev/keywatch/internal/db"
)

func testSub(positive, negative []string) *db.Subscription {
	return &db.Subscription{
		ID:               uuid.New(),
		UserID:           1,
		PositiveKeywords: positive,
		NegativeKeywords: negative,
		Active:           true,
	}
}

func TestLexicalScorer_NegativeVetoOverridesPositive(t *testing.T) {
	scorer := NewLexicalScorer()
	sub := testSub([]string{"iphone 15"}, []string{"чехол"})
	profile := NewMessageProfile("Продам чехол для iphone 15")

	res := scorer.Score(profile, sub)

	if res.MatchedNegative != "чехол" {
		t.Errorf("expected matched negative %q, got %q", "чехол", res.MatchedNegative)
	}
	if res.Score != 0 {
		t.Errorf("expected zero score on veto, got %v", res.Score)
	}
}

func TestLexicalScorer_PositiveMatch(t *testing.T) {
	scorer := NewLexicalScorer()
	sub := testSub([]string{"велосипед"}, nil)
	profile := NewMessageProfile("Продам велосипед б/у")

	res := scorer.Score(profile, sub)

	if res.MatchedNegative != "" {
		t.Errorf("unexpected negative match %q", res.MatchedNegative)
	}
	if res.Score < 0.30 {
		t.Errorf("expected score >= 0.30, got %v", res.Score)
	}
}

func TestLexicalScorer_NoOverlap(t *testing.T) {
	scorer := NewLexicalScorer()
	sub := testSub([]string{"гитара"}, nil)
	profile := NewMessageProfile("Сдам квартиру в центре")

	res := scorer.Score(profile, sub)

	if res.Score != 0 {
		t.Errorf("expected zero score, got %v", res.Score)
	}
}

func TestLexicalScorer_CaseAndPunctuationInsensitive(t *testing.T) {
	scorer := NewLexicalScorer()
	sub := testSub([]string{"MacBook"}, nil)
	profile := NewMessageProfile("продаю macbook, почти новый!")

	res := scorer.Score(profile, sub)

	if res.Score == 0 {
		t.Error("expected non-zero score for case-insensitive match")
	}
}

func TestLexicalScorer_MultiWordShingleBonus(t *testing.T) {
	scorer := NewLexicalScorer()
	profile := NewMessageProfile("продам iphone 15 недорого")

	intact := scorer.Score(profile, testSub([]string{"iphone 15"}, nil))
	scattered := scorer.Score(NewMessageProfile("продам iphone чехол 15"), testSub([]string{"iphone 15"}, nil))

	if intact.Score <= scattered.Score {
		t.Errorf("expected intact phrase to score higher: intact=%v scattered=%v",
			intact.Score, scattered.Score)
	}
}

func TestLexicalScorer_MoreMatchesNeverLowerScore(t *testing.T) {
	scorer := NewLexicalScorer()
	profile := NewMessageProfile("продам велосипед и самокат")

	one := scorer.Score(profile, testSub([]string{"велосипед", "самокат"}, nil))
	partial := scorer.Score(profile, testSub([]string{"велосипед", "гитара"}, nil))

	if one.Score < partial.Score {
		t.Errorf("expected two hits >= one hit: two=%v one=%v", one.Score, partial.Score)
	}
}

func TestLexicalScorer_DisabledNegativesIgnored(t *testing.T) {
	scorer := NewLexicalScorer()
	sub := testSub([]string{"iphone 15"}, nil)
	sub.DisabledNegatives = []string{"чехол"}
	profile := NewMessageProfile("Продам чехол для iphone 15")

	res := scorer.Score(profile, sub)

	if res.MatchedNegative != "" {
		t.Errorf("disabled negative should not veto, got %q", res.MatchedNegative)
	}
	if res.Score == 0 {
		t.Error("expected positive score when negatives are disabled")
	}
}

func TestLexicalScorer_NoPositiveKeywords(t *testing.T) {
	scorer := NewLexicalScorer()
	res := scorer.Score(NewMessageProfile("любой текст"), testSub(nil, nil))
	if res.Score != 0 {
		t.Errorf("expected zero score without positive keywords, got %v", res.Score)
	}
}
