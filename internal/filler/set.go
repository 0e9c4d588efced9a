package filler

import (
	"sort"
	"strings"
)

// DefaultPhrases is the built-in set of discourse markers stripped from
// transcripts. All entries are lowercase; multi-word phrases use single
// spaces.
var DefaultPhrases = []string{
	"um", "uh", "er", "ah", "like", "you know", "so", "well",
	"hmm", "okay", "right", "actually", "basically", "literally",
	"i mean", "sort of", "kind of", "you see",
}

// Set holds the filler phrases to remove. Immutable after NewSet.
type Set struct {
	phrases map[string]struct{}
	maxLen  int // longest phrase, in words
}

// NewSet merges the built-in phrases with user-supplied additions.
// Custom entries are trimmed and lowercased; empty entries are dropped.
func NewSet(custom []string) *Set {
	s := &Set{phrases: make(map[string]struct{})}
	for _, p := range DefaultPhrases {
		s.add(p)
	}
	for _, p := range custom {
		s.add(p)
	}
	return s
}

// ParseCustom splits a comma-separated phrase list as found in
// configuration, e.g. "gonna, i guess".
func ParseCustom(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Set) add(phrase string) {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	if p == "" {
		return
	}
	s.phrases[p] = struct{}{}
	if n := len(strings.Fields(p)); n > s.maxLen {
		s.maxLen = n
	}
}

// Contains reports whether the exact lowercase phrase is in the set.
func (s *Set) Contains(phrase string) bool {
	_, ok := s.phrases[phrase]
	return ok
}

// MaxWords is the word count of the longest phrase in the set. The
// window scan checks windows of this length first; the floor of 3 keeps
// the historical 3-2-1 window behavior even for all-short sets.
func (s *Set) MaxWords() int {
	if s.maxLen < 3 {
		return 3
	}
	return s.maxLen
}

// Phrases returns the phrases ordered longest-first (by byte length,
// then lexicographically) as required for alternation matching where an
// ambiguous short filler must not shadow a longer phrase.
func (s *Set) Phrases() []string {
	out := make([]string, 0, len(s.phrases))
	for p := range s.phrases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
