package filler

import (
	"regexp"
	"strings"
	"unicode"
)

// punctCutset lists the punctuation stripped from the edges of a token
// window before it is compared against the phrase set.
const punctCutset = `.,!?;:"()[]{}`

var (
	afterPeriodRe      = regexp.MustCompile(`\. [a-z]`)
	spaceRunRe         = regexp.MustCompile(`\s+`)
	spaceBeforePunctRe = regexp.MustCompile(`\s+([.!?,:;])`)
	standaloneIRe      = regexp.MustCompile(`\bi\b`)
)

// Cleaner removes filler phrases from transcribed speech and applies
// light grammar normalization. The fast path is a single precompiled
// alternation over runs of consecutive filler tokens; cleanTokens is
// the reference window scan the pattern must stay equivalent to.
type Cleaner struct {
	set *Set
	run *regexp.Regexp
}

func NewCleaner(set *Set) *Cleaner {
	return &Cleaner{set: set, run: compileRunPattern(set)}
}

// compileRunPattern builds a pattern matching one or more consecutive
// filler tokens, each allowing punctuation at its edges. Alternatives
// are ordered longest-first so a short ambiguous filler cannot shadow a
// longer phrase starting with the same word.
func compileRunPattern(set *Set) *regexp.Regexp {
	phrases := set.Phrases()
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		alts[i] = strings.Join(strings.Split(regexp.QuoteMeta(p), " "), `\s+`)
	}
	punct := `[.,!?;:"()\[\]{}]*`
	pattern := `(^|\s)(?:` + punct + `(?:` + strings.Join(alts, "|") + `)` + punct + `(?:\s+|$))+`
	return regexp.MustCompile(pattern)
}

// Clean lowercases the text, strips filler phrases, and normalizes the
// result. Empty input yields empty output.
func (c *Cleaner) Clean(text string) string {
	if text == "" {
		return ""
	}
	lowered := strings.ToLower(text)
	stripped := c.run.ReplaceAllString(lowered, "$1")
	return normalize(strings.Join(strings.Fields(stripped), " "))
}

// cleanTokens is the reference implementation: scan tokens left to
// right, trying the longest phrase window first at each position and
// skipping every token of a matched window.
func (c *Cleaner) cleanTokens(text string) string {
	if text == "" {
		return ""
	}
	words := strings.Fields(strings.ToLower(text))
	kept := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		matched := 0
		for n := c.set.MaxWords(); n >= 1; n-- {
			if i+n > len(words) {
				continue
			}
			phrase := strings.Trim(strings.Join(words[i:i+n], " "), punctCutset)
			if c.set.Contains(phrase) {
				matched = n
				break
			}
		}
		if matched > 0 {
			i += matched
			continue
		}
		kept = append(kept, words[i])
		i++
	}
	return normalize(strings.Join(kept, " "))
}

// Normalize applies the grammar pass without filler removal, for
// configurations where removal is switched off.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	return normalize(strings.Join(strings.Fields(strings.ToLower(text)), " "))
}

func normalize(text string) string {
	if text == "" {
		return ""
	}
	r := []rune(text)
	r[0] = unicode.ToUpper(r[0])
	text = string(r)
	text = afterPeriodRe.ReplaceAllStringFunc(text, strings.ToUpper)
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")
	text = standaloneIRe.ReplaceAllString(text, "I")
	return strings.TrimSpace(text)
}
