package turn

import "strings"

// MemoryPolicy decides whether and how a completed turn is written to
// long-term memory. The phrase lists are configuration data tuned by trial,
// not fixed algorithmic logic.
type MemoryPolicy struct {
	// DenialPhrases skip the write when the assistant reply admits it has
	// no memory of something (substring match on the lowercased reply).
	DenialPhrases []string
	// GreetingWords make an input non-meaningful when present as a word.
	GreetingWords []string
	// MinStoreWords is the minimum user word count for any storage.
	MinStoreWords int
	// ShortInputWords is the word count at which raw storage gives way to
	// summarize-then-store.
	ShortInputWords int
	// MinMeaningfulChars is the minimum input length for any storage.
	MinMeaningfulChars int
}

// StoreDecision is the outcome of classifying a completed turn.
type StoreDecision int

const (
	// StoreSkip means nothing is written.
	StoreSkip StoreDecision = iota
	// StoreVerbatim means the raw user text is written.
	StoreVerbatim
	// StoreSummary means a summary of the user text is requested
	// asynchronously and written once it arrives.
	StoreSummary
)

// Classify applies the memory-write policy to a completed turn.
func (p MemoryPolicy) Classify(userText, reply string) StoreDecision {
	lowReply := strings.ToLower(reply)
	for _, phrase := range p.DenialPhrases {
		if phrase != "" && strings.Contains(lowReply, strings.ToLower(phrase)) {
			return StoreSkip
		}
	}

	words := strings.Fields(userText)
	if len(words) < p.MinStoreWords {
		return StoreSkip
	}
	if !p.meaningful(userText, words) {
		return StoreSkip
	}
	if len(words) < p.ShortInputWords {
		return StoreVerbatim
	}
	return StoreSummary
}

// meaningful requires enough characters and no greeting word. Greeting
// matching is per-word rather than raw substring so "this" does not trip on
// "hi".
func (p MemoryPolicy) meaningful(text string, words []string) bool {
	if len(strings.TrimSpace(text)) <= p.MinMeaningfulChars {
		return false
	}
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,!?"))
		for _, g := range p.GreetingWords {
			if lw == strings.ToLower(g) {
				return false
			}
		}
	}
	return true
}
