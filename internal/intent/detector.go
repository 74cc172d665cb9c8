// Package intent turns free-form chat text into at most one agent
// suggestion. Detection is deterministic keyword scoring over the agent
// catalog; there is no I/O and no hidden state, so the detector is safe to
// run on every keystroke or only on submit.
package intent

import (
	"fmt"
	"strings"
	"unicode"

	"muse/internal/agents"
)

// Thresholds and weights of the confidence formula.
const (
	baseConfidence   = 0.3
	perMatchWeight   = 0.25
	keywordCeiling   = 0.9
	strongBonus      = 0.3
	suggestThreshold = 0.4
)

// Suggestion proposes execution of one agent for one chat message.
// Immutable once produced.
type Suggestion struct {
	AgentType     agents.Type
	Confidence    float64
	Reasoning     string
	PrefillParams map[string]any
}

// Detector scores chat text against the catalog's keyword tables.
type Detector struct {
	catalog *agents.Catalog
}

// NewDetector builds a detector over the given catalog.
func NewDetector(catalog *agents.Catalog) *Detector {
	return &Detector{catalog: catalog}
}

// Detect returns the best suggestion for the text, or nil when no available
// agent clears the confidence threshold. Absence of a match is not an error.
func (d *Detector) Detect(text string) *Suggestion {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	tokens := tokenize(normalized)

	var best *Suggestion
	// Definitions are iterated in fixed priority order, so on equal
	// confidence the earlier agent wins deterministically.
	for _, def := range d.catalog.Definitions() {
		candidate := score(def, normalized, tokens)
		if candidate == nil {
			continue
		}
		if !d.catalog.Available(def.Type) {
			continue
		}
		if best == nil || candidate.Confidence > best.Confidence {
			best = candidate
		}
	}

	if best != nil {
		best.PrefillParams = map[string]any{"prompt": strings.TrimSpace(text)}
	}
	return best
}

func score(def agents.Definition, normalized string, tokens map[string]bool) *Suggestion {
	var matchScore float64
	var matched []string
	for _, keyword := range def.Keywords {
		if !tokens[keyword.Word] {
			continue
		}
		weight := keyword.Weight
		if weight <= 0 {
			weight = 1
		}
		matchScore += weight
		matched = append(matched, keyword.Word)
	}
	var indicator string
	for _, phrase := range def.StrongIndicators {
		if strings.Contains(normalized, phrase) {
			indicator = phrase
			break
		}
	}
	// A strong indicator carries the suggestion on its own: the phrase need
	// not share a word with the keyword table.
	if matchScore == 0 && indicator == "" {
		return nil
	}

	confidence := baseConfidence + perMatchWeight*matchScore
	if confidence > keywordCeiling {
		confidence = keywordCeiling
	}
	if indicator != "" {
		confidence += strongBonus
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < suggestThreshold {
		return nil
	}

	var parts []string
	if len(matched) > 0 {
		parts = append(parts, fmt.Sprintf("matched keywords %s", strings.Join(matched, ", ")))
	}
	if indicator != "" {
		parts = append(parts, fmt.Sprintf("strong indicator %q", indicator))
	}
	reasoning := strings.Join(parts, "; ")

	return &Suggestion{
		AgentType:  def.Type,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

// tokenize splits normalized text into a word set. Keywords match whole
// words only, so "male" never fires inside "female".
func tokenize(normalized string) map[string]bool {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
