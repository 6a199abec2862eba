package turn

import "testing"

func testPolicy() MemoryPolicy {
	return MemoryPolicy{
		DenialPhrases:      []string{"i have no memory", "i don't remember"},
		GreetingWords:      []string{"hello", "hi", "hey"},
		MinStoreWords:      2,
		ShortInputWords:    15,
		MinMeaningfulChars: 10,
	}
}

func TestPolicy_Classify(t *testing.T) {
	p := testPolicy()
	cases := []struct {
		name  string
		user  string
		reply string
		want  StoreDecision
	}{
		{"single word skipped", "ok", "sure", StoreSkip},
		{"short meaningful input stored verbatim", "My favorite color is blue", "Nice choice.", StoreVerbatim},
		{"long input summarized", "I grew up in a small coastal town where my grandfather taught me how to repair old fishing boats every summer", "That sounds lovely.", StoreSummary},
		{"denial phrase skips storage", "My favorite color is blue", "Sorry, I have no memory of that.", StoreSkip},
		{"greeting is not meaningful", "hey how are you doing today", "I'm well!", StoreSkip},
		{"too few characters skipped", "go fast", "ok", StoreSkip},
	}
	for _, tc := range cases {
		if got := p.Classify(tc.user, tc.reply); got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestPolicy_GreetingMatchesWordsNotSubstrings(t *testing.T) {
	p := testPolicy()
	// "this" contains "hi" but is not a greeting.
	if got := p.Classify("this boat needs new paint", "noted"); got != StoreVerbatim {
		t.Fatalf("expected verbatim store, got %v", got)
	}
	if got := p.Classify("Hi, my name is Sam", "hello Sam"); got != StoreSkip {
		t.Fatalf("expected greeting to skip storage, got %v", got)
	}
}

func TestPolicy_DenialIsCaseInsensitive(t *testing.T) {
	p := testPolicy()
	if got := p.Classify("My favorite color is blue", "I Don't Remember anything like that"); got != StoreSkip {
		t.Fatalf("expected denial skip, got %v", got)
	}
}
