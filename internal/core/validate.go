package core

import (
	"regexp"
	"strconv"
	"strings"

	"healthsignal/pkg"
)

// nonAnswers are strings that look like data but carry none. A location
// answer matching one of these is treated as absent, not as a value.
var nonAnswers = map[string]struct{}{
	"i don't know": {},
	"i dont know":  {},
	"don't know":   {},
	"dont know":    {},
	"unknown":      {},
	"not sure":     {},
	"idk":          {},
	"no idea":      {},
	"n/a":          {},
	"na":           {},
	"none":         {},
}

// IsNonAnswer reports whether the text is a known non-answer.
func IsNonAnswer(text string) bool {
	_, ok := nonAnswers[strings.ToLower(strings.TrimSpace(text))]
	return ok || strings.TrimSpace(text) == ""
}

var temporalWords = []string{"day", "week", "ago", "yesterday", "today", "tonight"}

var pureNumber = regexp.MustCompile(`^\d+$`)

// isTemporalPhrase reports whether a single extracted "symptom" is really
// a timing phrase ("3 days ago", "yesterday") or a bare number.
func isTemporalPhrase(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" || pureNumber.MatchString(t) {
		return true
	}
	for _, w := range temporalWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

// FilterSymptoms drops temporal phrases and blanks from an extracted
// symptom list. An empty result means the extraction produced nothing
// usable and the previous value must be preserved.
func FilterSymptoms(symptoms []string) []string {
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		if s = strings.TrimSpace(s); s != "" && !isTemporalPhrase(s) {
			out = append(out, s)
		}
	}
	return out
}

// IsValidDays reports whether a day count is usable.
func IsValidDays(days *int) bool {
	return days != nil && *days >= 0
}

var daysAgoPattern = regexp.MustCompile(`(\d+)\s*days?\s*(ago)?`)

// ParseDaysPhrase parses common day-count answers directly, without an
// extraction call: a bare number, "X days ago", "yesterday", "today",
// "last week". Returns false when the text needs real extraction.
func ParseDaysPhrase(text string) (int, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return 0, false
	}
	if pureNumber.MatchString(t) {
		return atoiDays(t)
	}
	if m := daysAgoPattern.FindStringSubmatch(t); m != nil {
		return atoiDays(m[1])
	}
	switch {
	case strings.Contains(t, "yesterday"):
		return 1, true
	case strings.Contains(t, "today"):
		return 0, true
	case strings.Contains(t, "last week"), strings.Contains(t, "a week ago"):
		return 7, true
	}
	return 0, false
}

// atoiDays rejects anything strconv can't represent, so absurdly long
// digit runs never wrap into a bogus day count.
func atoiDays(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// validCategories guards against the extractor inventing categories.
var validCategories = map[pkg.IllnessCategory]struct{}{
	pkg.CategoryAirborne:      {},
	pkg.CategoryFoodborne:     {},
	pkg.CategoryWaterborne:    {},
	pkg.CategoryInsectBorne:   {},
	pkg.CategoryDirectContact: {},
	pkg.CategoryOther:         {},
}

// NormalizeCategory maps arbitrary extractor output onto the known
// category set, defaulting to "other".
func NormalizeCategory(raw string) pkg.IllnessCategory {
	c := pkg.IllnessCategory(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validCategories[c]; ok {
		return c
	}
	return pkg.CategoryOther
}

// NormalizeLocationCategory validates the urban/suburban/rural label,
// returning "" when unrecognized.
func NormalizeLocationCategory(raw string) pkg.LocationCategory {
	switch c := pkg.LocationCategory(strings.ToLower(strings.TrimSpace(raw))); c {
	case pkg.LocationUrban, pkg.LocationSuburban, pkg.LocationRural:
		return c
	}
	return ""
}

// categoryKeywords drives the forced-diagnosis fallback: when the
// extractor never produces a final diagnosis, the category is inferred
// from keyword presence in the symptom text.
var categoryKeywords = []struct {
	category pkg.IllnessCategory
	words    []string
}{
	{pkg.CategoryFoodborne, []string{"stomach", "nausea", "vomit", "diarrhea", "cramp", "food"}},
	{pkg.CategoryAirborne, []string{"cough", "fever", "breath", "throat", "congestion", "sneez", "chills"}},
	{pkg.CategoryWaterborne, []string{"swim", "water", "lake", "pool"}},
	{pkg.CategoryInsectBorne, []string{"bite", "rash", "tick", "mosquito", "bullseye"}},
}

// FallbackDiagnosis builds the deterministic low-confidence diagnosis used
// when the clarification budget is exhausted and the extractor still has
// not produced one. Confidence grows slightly with keyword evidence but
// never exceeds 0.65.
func FallbackDiagnosis(symptoms []string) *pkg.Diagnosis {
	text := strings.ToLower(strings.Join(symptoms, " "))

	category := pkg.CategoryOther
	matches := 0
	for _, ck := range categoryKeywords {
		n := 0
		for _, w := range ck.words {
			if strings.Contains(text, w) {
				n++
			}
		}
		if n > matches {
			matches = n
			category = ck.category
		}
	}

	confidence := 0.40 + 0.05*float64(matches)
	if confidence > 0.65 {
		confidence = 0.65
	}

	name := "Unspecified illness"
	if category != pkg.CategoryOther {
		name = "Suspected " + string(category) + " illness"
	}
	return &pkg.Diagnosis{
		Name:       name,
		Category:   category,
		Confidence: confidence,
		Reasoning:  "Classified from symptom keywords after the clarification limit was reached.",
	}
}
